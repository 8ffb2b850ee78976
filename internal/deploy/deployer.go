package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/config"
	"github.com/nao1215/lambda-authorizer/internal/state"
	"github.com/nao1215/lambda-authorizer/pkg/event"
)

// OutputAPI はAPIエンドポイントを表す出力のキー。
const OutputAPI = "API"

// リソースの種類。
const (
	KindRole        = "role"
	KindFunction    = "function"
	KindLogGroup    = "log_group"
	KindPermission  = "permission"
	KindAPI         = "api"
	KindAuthorizer  = "authorizer"
	KindIntegration = "integration"
	KindRoute       = "route"
	KindStage       = "stage"
)

// defaultRetryDelay は伝播待ちの再試行の初回待ち時間。
const defaultRetryDelay = 2 * time.Second

// StateStore はデプロイ状態とイベント履歴の保存先。
type StateStore interface {
	SaveResource(ctx context.Context, r state.Resource) error
	Resource(ctx context.Context, stack, logicalID string) (*state.Resource, error)
	Resources(ctx context.Context, stack string) ([]state.Resource, error)
	DeleteResource(ctx context.Context, stack, logicalID string) error
	DeleteResources(ctx context.Context, stack string) error
	SaveOutput(ctx context.Context, stack, key, value string) error
	Outputs(ctx context.Context, stack string) (map[string]string, error)
	AppendEvent(ctx context.Context, stack string, eventType event.Type, data any) (*event.Event, error)
}

var _ StateStore = (*state.Store)(nil)

// Outputs はスタックの出力。
type Outputs struct {
	// API はHTTP APIのエンドポイントURL。
	API string
}

// Deployer はスタックのデプロイと削除を行う。
type Deployer struct {
	region     string
	accountID  string
	store      StateStore
	roles      *RoleRepository
	functions  *FunctionRepository
	logGroups  *LogGroupRepository
	apis       *APIRepository
	log        logrus.FieldLogger
	retryDelay time.Duration
}

// Option はDeployerのオプション。
type Option func(*Deployer)

// WithRetryDelay はロールやロググループの伝播待ちに使う初回の待ち時間を設定する。
func WithRetryDelay(d time.Duration) Option {
	return func(dp *Deployer) {
		dp.retryDelay = d
	}
}

// NewDeployer はDeployerを生成する。
func NewDeployer(client *AWSClient, store StateStore, log logrus.FieldLogger, opts ...Option) *Deployer {
	d := &Deployer{
		region:     client.Region,
		accountID:  client.AccountID,
		store:      store,
		log:        log,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.roles = NewRoleRepository(client.IAM, log)
	d.functions = NewFunctionRepository(client.Lambda, d.retryDelay, log)
	d.logGroups = NewLogGroupRepository(client.Logs, d.retryDelay, log)
	d.apis = NewAPIRepository(client.APIGateway, client.Region, log)
	return d
}

// stepError は失敗したステップ名を保持するエラー。
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func step(name string, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{step: name, err: err}
}

// Deploy は構成どおりにリソースを作成または更新し、出力を返す。
// 途中で失敗した場合はDeployFailedイベントを記録する。
func (d *Deployer) Deploy(ctx context.Context, cfg *config.Config) (*Outputs, error) {
	stack := cfg.Stack.Name
	if _, err := d.store.AppendEvent(ctx, stack, event.TypeStackDeployStarted, event.StackDeployStartedData{
		Region:    d.region,
		AccountID: d.accountID,
	}); err != nil {
		return nil, err
	}

	out, err := d.deploy(ctx, cfg)
	if err != nil {
		d.recordFailure(ctx, stack, err)
		return nil, err
	}

	if _, err := d.store.AppendEvent(ctx, stack, event.TypeStackDeployed, event.StackDeployedData{
		Outputs: map[string]string{OutputAPI: out.API},
	}); err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{"stack": stack, OutputAPI: out.API}).Info("デプロイ完了")
	return out, nil
}

func (d *Deployer) deploy(ctx context.Context, cfg *config.Config) (*Outputs, error) {
	stack := cfg.Stack.Name

	functionARNs := make(map[string]string, len(cfg.Functions))
	for _, key := range sortedKeys(cfg.Functions) {
		arn, err := d.deployFunction(ctx, cfg, key)
		if err != nil {
			return nil, err
		}
		functionARNs[key] = arn
	}

	apiID, err := d.physicalID(ctx, stack, KindAPI)
	if err != nil {
		return nil, step("api", err)
	}
	api, err := d.apis.EnsureAPI(ctx, apiID, cfg.API)
	if err != nil {
		return nil, step("api", err)
	}
	if err := d.record(ctx, stack, KindAPI, KindAPI, api.ID, d.apiARN(api.ID), api.ID != apiID); err != nil {
		return nil, err
	}

	// API Gatewayから呼び出される関数に呼び出し許可を付与する。
	invoked := make(map[string]struct{})
	for _, r := range cfg.API.Routes {
		invoked[r.Integration] = struct{}{}
	}
	for _, az := range cfg.Authorizers {
		invoked[az.Function] = struct{}{}
	}
	statementID := "apigateway-" + api.ID
	sourceARN := d.apiARN(api.ID) + "/*"
	for _, key := range sortedKeys(invoked) {
		name := cfg.Functions[key].Name
		if err := d.functions.AllowAPIGateway(ctx, name, statementID, sourceARN); err != nil {
			return nil, step("permission", err)
		}
		if err := d.record(ctx, stack, KindPermission+":"+key, KindPermission, statementID, "", false); err != nil {
			return nil, err
		}
	}

	authorizerIDs := make(map[string]string, len(cfg.Authorizers))
	for _, key := range sortedKeys(cfg.Authorizers) {
		az := cfg.Authorizers[key]
		logicalID := KindAuthorizer + ":" + key
		current, err := d.physicalID(ctx, stack, logicalID)
		if err != nil {
			return nil, step(logicalID, err)
		}
		id, err := d.apis.EnsureAuthorizer(ctx, api.ID, current, AuthorizerSpec{
			Name:           az.Name,
			FunctionARN:    functionARNs[az.Function],
			IdentitySource: az.IdentitySource,
			TTLSeconds:     int32(az.ResultsCacheTTL / time.Second),
		})
		if err != nil {
			return nil, step(logicalID, err)
		}
		authorizerIDs[key] = id
		if err := d.record(ctx, stack, logicalID, KindAuthorizer, id, "", id != current); err != nil {
			return nil, err
		}
	}

	integrationIDs := make(map[string]string)
	for _, r := range cfg.API.Routes {
		if _, ok := integrationIDs[r.Integration]; ok {
			continue
		}
		logicalID := KindIntegration + ":" + r.Integration
		current, err := d.physicalID(ctx, stack, logicalID)
		if err != nil {
			return nil, step(logicalID, err)
		}
		id, err := d.apis.EnsureIntegration(ctx, api.ID, current, functionARNs[r.Integration])
		if err != nil {
			return nil, step(logicalID, err)
		}
		integrationIDs[r.Integration] = id
		if err := d.record(ctx, stack, logicalID, KindIntegration, id, "", id != current); err != nil {
			return nil, err
		}
	}

	routeIDs := make(map[string]struct{}, len(cfg.API.Routes))
	for _, r := range cfg.API.Routes {
		logicalID := KindRoute + ":" + r.Key()
		current, err := d.physicalID(ctx, stack, logicalID)
		if err != nil {
			return nil, step(logicalID, err)
		}
		spec := RouteSpec{Key: r.Key(), IntegrationID: integrationIDs[r.Integration]}
		if key, ok := cfg.RouteAuthorizer(r); ok {
			spec.AuthorizerID = authorizerIDs[key]
		}
		id, err := d.apis.EnsureRoute(ctx, api.ID, current, spec)
		if err != nil {
			return nil, step(logicalID, err)
		}
		routeIDs[logicalID] = struct{}{}
		if err := d.record(ctx, stack, logicalID, KindRoute, id, "", id != current); err != nil {
			return nil, err
		}
	}

	stage := cfg.Gateway.Stage
	if stage == "" {
		stage = "$default"
	}
	if err := d.apis.EnsureStage(ctx, api.ID, stage); err != nil {
		return nil, step(KindStage, err)
	}
	if err := d.record(ctx, stack, KindStage, KindStage, stage, "", false); err != nil {
		return nil, err
	}

	if err := d.prune(ctx, stack, api.ID, cfg, routeIDs); err != nil {
		return nil, step("prune", err)
	}

	if err := d.store.SaveOutput(ctx, stack, OutputAPI, api.Endpoint); err != nil {
		return nil, err
	}
	return &Outputs{API: api.Endpoint}, nil
}

// deployFunction は関数1つ分のロール・関数本体・ロググループを用意し、関数のARNを返す。
func (d *Deployer) deployFunction(ctx context.Context, cfg *config.Config, key string) (string, error) {
	stack := cfg.Stack.Name
	fn := cfg.Functions[key]

	roleName := fn.Name + "-role"
	roleARN, created, err := d.roles.Ensure(ctx, roleName)
	if err != nil {
		return "", step(KindRole+":"+key, err)
	}
	if err := d.record(ctx, stack, KindRole+":"+key, KindRole, roleName, roleARN, created); err != nil {
		return "", err
	}

	code, err := os.ReadFile(fn.ZipFile)
	if err != nil {
		return "", step(KindFunction+":"+key, fmt.Errorf("デプロイパッケージ %s の読み込みに失敗: %w", fn.ZipFile, err))
	}
	arn, created, err := d.functions.Ensure(ctx, FunctionSpec{
		Name:         fn.Name,
		RoleARN:      roleARN,
		Code:         code,
		Handler:      fn.Handler,
		Runtime:      fn.Runtime,
		Architecture: fn.Architecture,
		MemorySize:   fn.MemorySize,
		Timeout:      fn.Timeout,
		Environment:  functionEnvironment(cfg, key),
	})
	if err != nil {
		return "", step(KindFunction+":"+key, err)
	}
	if err := d.record(ctx, stack, KindFunction+":"+key, KindFunction, fn.Name, arn, created); err != nil {
		return "", err
	}

	group := LogGroupName(fn.Name)
	created, err = d.logGroups.Ensure(ctx, group)
	if err != nil {
		return "", step(KindLogGroup+":"+key, err)
	}
	if err := d.record(ctx, stack, KindLogGroup+":"+key, KindLogGroup, group, "", created); err != nil {
		return "", err
	}
	return arn, nil
}

// prune は構成から消えたルート・統合・オーソライザーを削除する。
func (d *Deployer) prune(ctx context.Context, stack, apiID string, cfg *config.Config, routes map[string]struct{}) error {
	resources, err := d.store.Resources(ctx, stack)
	if err != nil {
		return err
	}

	wanted := func(r state.Resource) bool {
		switch r.Kind {
		case KindRoute:
			_, ok := routes[r.LogicalID]
			return ok
		case KindIntegration:
			key := strings.TrimPrefix(r.LogicalID, KindIntegration+":")
			for _, route := range cfg.API.Routes {
				if route.Integration == key {
					return true
				}
			}
			return false
		case KindAuthorizer:
			_, ok := cfg.Authorizers[strings.TrimPrefix(r.LogicalID, KindAuthorizer+":")]
			return ok
		}
		return true
	}

	for _, kind := range []string{KindRoute, KindIntegration, KindAuthorizer} {
		for _, r := range resources {
			if r.Kind != kind || wanted(r) {
				continue
			}
			var err error
			switch kind {
			case KindRoute:
				err = d.apis.DeleteRoute(ctx, apiID, r.PhysicalID)
			case KindIntegration:
				err = d.apis.DeleteIntegration(ctx, apiID, r.PhysicalID)
			case KindAuthorizer:
				err = d.apis.DeleteAuthorizer(ctx, apiID, r.PhysicalID)
			}
			if err != nil {
				return err
			}
			if err := d.forget(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Destroy は状態ストアに記録されたリソースをすべて削除する。
func (d *Deployer) Destroy(ctx context.Context, stack string) error {
	if err := d.destroy(ctx, stack); err != nil {
		d.recordFailure(ctx, stack, err)
		return err
	}
	if _, err := d.store.AppendEvent(ctx, stack, event.TypeStackDestroyed, struct{}{}); err != nil {
		return err
	}
	d.log.WithField("stack", stack).Info("削除完了")
	return nil
}

func (d *Deployer) destroy(ctx context.Context, stack string) error {
	resources, err := d.store.Resources(ctx, stack)
	if err != nil {
		return err
	}

	var apiID string
	byLogicalID := make(map[string]state.Resource, len(resources))
	for _, r := range resources {
		byLogicalID[r.LogicalID] = r
		if r.Kind == KindAPI {
			apiID = r.PhysicalID
		}
	}

	// 依存される側を後に削除する。
	order := []string{KindRoute, KindIntegration, KindAuthorizer, KindStage, KindAPI, KindPermission, KindFunction, KindLogGroup, KindRole}
	for _, kind := range order {
		for _, r := range resources {
			if r.Kind != kind {
				continue
			}
			var err error
			switch kind {
			case KindRoute:
				err = d.apis.DeleteRoute(ctx, apiID, r.PhysicalID)
			case KindIntegration:
				err = d.apis.DeleteIntegration(ctx, apiID, r.PhysicalID)
			case KindAuthorizer:
				err = d.apis.DeleteAuthorizer(ctx, apiID, r.PhysicalID)
			case KindStage:
				// ステージはAPIと一緒に削除される。
			case KindAPI:
				err = d.apis.DeleteAPI(ctx, r.PhysicalID)
			case KindPermission:
				fn, ok := byLogicalID[KindFunction+":"+strings.TrimPrefix(r.LogicalID, KindPermission+":")]
				if ok {
					err = d.functions.RevokeAPIGateway(ctx, fn.PhysicalID, r.PhysicalID)
				}
			case KindFunction:
				err = d.functions.Delete(ctx, r.PhysicalID)
			case KindLogGroup:
				err = d.logGroups.Delete(ctx, r.PhysicalID)
			case KindRole:
				err = d.roles.Delete(ctx, r.PhysicalID)
			}
			if err != nil {
				return step(r.LogicalID, err)
			}
			if err := d.forget(ctx, r); err != nil {
				return err
			}
		}
	}
	return d.store.DeleteResources(ctx, stack)
}

// Outputs は最後に成功したデプロイの出力を返す。
func (d *Deployer) Outputs(ctx context.Context, stack string) (*Outputs, error) {
	outputs, err := d.store.Outputs(ctx, stack)
	if err != nil {
		return nil, err
	}
	endpoint, ok := outputs[OutputAPI]
	if !ok {
		return nil, fmt.Errorf("スタック %s の出力 %s: %w", stack, OutputAPI, state.ErrNotFound)
	}
	return &Outputs{API: endpoint}, nil
}

// record はリソースを状態ストアに保存し、作成または更新のイベントを追記する。
func (d *Deployer) record(ctx context.Context, stack, logicalID, kind, physicalID, arn string, created bool) error {
	if err := d.store.SaveResource(ctx, state.Resource{
		Stack:      stack,
		LogicalID:  logicalID,
		Kind:       kind,
		PhysicalID: physicalID,
		ARN:        arn,
	}); err != nil {
		return err
	}
	eventType := event.TypeResourceUpdated
	if created {
		eventType = event.TypeResourceCreated
	}
	_, err := d.store.AppendEvent(ctx, stack, eventType, event.ResourceData{
		LogicalID:  logicalID,
		Kind:       kind,
		PhysicalID: physicalID,
	})
	return err
}

// forget は削除したリソースを状態ストアから取り除き、削除イベントを追記する。
func (d *Deployer) forget(ctx context.Context, r state.Resource) error {
	if err := d.store.DeleteResource(ctx, r.Stack, r.LogicalID); err != nil {
		return err
	}
	_, err := d.store.AppendEvent(ctx, r.Stack, event.TypeResourceDeleted, event.ResourceData{
		LogicalID:  r.LogicalID,
		Kind:       r.Kind,
		PhysicalID: r.PhysicalID,
	})
	return err
}

// physicalID は記録済みリソースの物理IDを返す。未記録なら空文字列。
func (d *Deployer) physicalID(ctx context.Context, stack, logicalID string) (string, error) {
	r, err := d.store.Resource(ctx, stack, logicalID)
	if errors.Is(err, state.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return r.PhysicalID, nil
}

func (d *Deployer) recordFailure(ctx context.Context, stack string, err error) {
	data := event.DeployFailedData{Step: "unknown", Reason: err.Error()}
	var se *stepError
	if errors.As(err, &se) {
		data.Step = se.step
		data.Reason = se.err.Error()
	}
	if _, appendErr := d.store.AppendEvent(ctx, stack, event.TypeDeployFailed, data); appendErr != nil {
		d.log.WithError(appendErr).Error("失敗イベントの記録に失敗")
	}
}

// apiARN はAPIの実行ARNを返す。
func (d *Deployer) apiARN(apiID string) string {
	return fmt.Sprintf("arn:aws:execute-api:%s:%s:%s", d.region, d.accountID, apiID)
}

// functionEnvironment は関数に渡す環境変数を返す。
// オーソライザー関数には判定方法の構成を渡す。関数ごとの指定が優先される。
func functionEnvironment(cfg *config.Config, key string) map[string]string {
	env := map[string]string{
		"BOOKS_LOGGING_LEVEL":  cfg.Logging.Level,
		"BOOKS_LOGGING_FORMAT": cfg.Logging.Format,
	}
	for _, az := range cfg.Authorizers {
		if az.Function != key {
			continue
		}
		env["BOOKS_AUTH_MODE"] = cfg.Auth.Mode
		env["BOOKS_AUTH_ISSUER"] = cfg.Auth.Issuer
		if cfg.Auth.JWTSecret != "" {
			env["BOOKS_AUTH_JWT_SECRET"] = cfg.Auth.JWTSecret
		}
		if cfg.Auth.InventoryAPIARN != "" {
			env["INVENTORY_API_ARN"] = cfg.Auth.InventoryAPIARN
		}
		break
	}
	for k, v := range cfg.Functions[key].Environment {
		env[k] = v
	}
	return env
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
