package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/config"
)

// payloadFormatVersion は統合とオーソライザーに渡すイベントの形式。
const payloadFormatVersion = "2.0"

// APIResult は作成または更新したHTTP APIの識別情報。
type APIResult struct {
	ID       string
	Endpoint string
}

// AuthorizerSpec はリクエストオーソライザーの定義。
type AuthorizerSpec struct {
	Name           string
	FunctionARN    string
	IdentitySource []string
	TTLSeconds     int32
}

// RouteSpec はルートの定義。AuthorizerIDが空ならオーソライザーなし。
type RouteSpec struct {
	Key           string
	IntegrationID string
	AuthorizerID  string
}

// APIRepository はHTTP APIとその子リソースを管理する。
type APIRepository struct {
	api    APIGatewayAPI
	region string
	log    logrus.FieldLogger
}

// NewAPIRepository はAPIRepositoryを生成する。
func NewAPIRepository(api APIGatewayAPI, region string, log logrus.FieldLogger) *APIRepository {
	return &APIRepository{api: api, region: region, log: log}
}

// EnsureAPI はHTTP APIを作成する。idが空でなければ既存のAPIを更新する。
func (r *APIRepository) EnsureAPI(ctx context.Context, id string, cfg config.APIConfig) (*APIResult, error) {
	cors := corsConfiguration(cfg.CORS)
	if id != "" {
		out, err := r.api.UpdateApi(ctx, &apigatewayv2.UpdateApiInput{
			ApiId:             aws.String(id),
			Name:              aws.String(cfg.Name),
			Description:       aws.String(cfg.Description),
			CorsConfiguration: cors,
		})
		if err == nil {
			return &APIResult{ID: aws.ToString(out.ApiId), Endpoint: aws.ToString(out.ApiEndpoint)}, nil
		}
		var notFound *apitypes.NotFoundException
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("API %s の更新に失敗: %w", id, err)
		}
		r.log.WithField("api_id", id).Warn("記録されたAPIが存在しないため作成し直す")
	}

	out, err := r.api.CreateApi(ctx, &apigatewayv2.CreateApiInput{
		Name:              aws.String(cfg.Name),
		Description:       aws.String(cfg.Description),
		ProtocolType:      apitypes.ProtocolTypeHttp,
		CorsConfiguration: cors,
	})
	if err != nil {
		return nil, fmt.Errorf("API %s の作成に失敗: %w", cfg.Name, err)
	}
	return &APIResult{ID: aws.ToString(out.ApiId), Endpoint: aws.ToString(out.ApiEndpoint)}, nil
}

// EnsureAuthorizer はシンプルレスポンス形式のリクエストオーソライザーを作成または更新し、IDを返す。
func (r *APIRepository) EnsureAuthorizer(ctx context.Context, apiID, id string, spec AuthorizerSpec) (string, error) {
	uri := r.invocationURI(spec.FunctionARN)
	var identity []string
	// TTLが0の場合は識別ソースがなくてもオーソライザーを呼び出せる。
	if spec.TTLSeconds > 0 || len(spec.IdentitySource) > 0 {
		identity = spec.IdentitySource
	}

	if id != "" {
		_, err := r.api.UpdateAuthorizer(ctx, &apigatewayv2.UpdateAuthorizerInput{
			ApiId:                          aws.String(apiID),
			AuthorizerId:                   aws.String(id),
			Name:                           aws.String(spec.Name),
			AuthorizerType:                 apitypes.AuthorizerTypeRequest,
			AuthorizerUri:                  aws.String(uri),
			AuthorizerPayloadFormatVersion: aws.String(payloadFormatVersion),
			EnableSimpleResponses:          aws.Bool(true),
			AuthorizerResultTtlInSeconds:   aws.Int32(spec.TTLSeconds),
			IdentitySource:                 identity,
		})
		if err == nil {
			return id, nil
		}
		var notFound *apitypes.NotFoundException
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("オーソライザー %s の更新に失敗: %w", spec.Name, err)
		}
	}

	out, err := r.api.CreateAuthorizer(ctx, &apigatewayv2.CreateAuthorizerInput{
		ApiId:                          aws.String(apiID),
		Name:                           aws.String(spec.Name),
		AuthorizerType:                 apitypes.AuthorizerTypeRequest,
		AuthorizerUri:                  aws.String(uri),
		AuthorizerPayloadFormatVersion: aws.String(payloadFormatVersion),
		EnableSimpleResponses:          aws.Bool(true),
		AuthorizerResultTtlInSeconds:   aws.Int32(spec.TTLSeconds),
		IdentitySource:                 identity,
	})
	if err != nil {
		return "", fmt.Errorf("オーソライザー %s の作成に失敗: %w", spec.Name, err)
	}
	return aws.ToString(out.AuthorizerId), nil
}

// EnsureIntegration は関数へのAWS_PROXY統合を作成または更新し、IDを返す。
func (r *APIRepository) EnsureIntegration(ctx context.Context, apiID, id, functionARN string) (string, error) {
	if id != "" {
		_, err := r.api.UpdateIntegration(ctx, &apigatewayv2.UpdateIntegrationInput{
			ApiId:                aws.String(apiID),
			IntegrationId:        aws.String(id),
			IntegrationType:      apitypes.IntegrationTypeAwsProxy,
			IntegrationUri:       aws.String(functionARN),
			PayloadFormatVersion: aws.String(payloadFormatVersion),
		})
		if err == nil {
			return id, nil
		}
		var notFound *apitypes.NotFoundException
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("統合 %s の更新に失敗: %w", id, err)
		}
	}

	out, err := r.api.CreateIntegration(ctx, &apigatewayv2.CreateIntegrationInput{
		ApiId:                aws.String(apiID),
		IntegrationType:      apitypes.IntegrationTypeAwsProxy,
		IntegrationUri:       aws.String(functionARN),
		PayloadFormatVersion: aws.String(payloadFormatVersion),
	})
	if err != nil {
		return "", fmt.Errorf("統合の作成に失敗: %w", err)
	}
	return aws.ToString(out.IntegrationId), nil
}

// EnsureRoute はルートを作成または更新し、IDを返す。
func (r *APIRepository) EnsureRoute(ctx context.Context, apiID, id string, spec RouteSpec) (string, error) {
	target := "integrations/" + spec.IntegrationID
	authType := apitypes.AuthorizationTypeNone
	var authorizerID *string
	if spec.AuthorizerID != "" {
		authType = apitypes.AuthorizationTypeCustom
		authorizerID = aws.String(spec.AuthorizerID)
	}

	if id != "" {
		_, err := r.api.UpdateRoute(ctx, &apigatewayv2.UpdateRouteInput{
			ApiId:             aws.String(apiID),
			RouteId:           aws.String(id),
			RouteKey:          aws.String(spec.Key),
			Target:            aws.String(target),
			AuthorizationType: authType,
			AuthorizerId:      authorizerID,
		})
		if err == nil {
			return id, nil
		}
		var notFound *apitypes.NotFoundException
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("ルート %s の更新に失敗: %w", spec.Key, err)
		}
	}

	out, err := r.api.CreateRoute(ctx, &apigatewayv2.CreateRouteInput{
		ApiId:             aws.String(apiID),
		RouteKey:          aws.String(spec.Key),
		Target:            aws.String(target),
		AuthorizationType: authType,
		AuthorizerId:      authorizerID,
	})
	if err != nil {
		return "", fmt.Errorf("ルート %s の作成に失敗: %w", spec.Key, err)
	}
	return aws.ToString(out.RouteId), nil
}

// EnsureStage は自動デプロイのステージを作成する。作成済みなら何もしない。
func (r *APIRepository) EnsureStage(ctx context.Context, apiID, name string) error {
	_, err := r.api.CreateStage(ctx, &apigatewayv2.CreateStageInput{
		ApiId:      aws.String(apiID),
		StageName:  aws.String(name),
		AutoDeploy: aws.Bool(true),
	})
	var conflict *apitypes.ConflictException
	if err != nil && !errors.As(err, &conflict) {
		return fmt.Errorf("ステージ %s の作成に失敗: %w", name, err)
	}
	return nil
}

// DeleteRoute はルートを削除する。
func (r *APIRepository) DeleteRoute(ctx context.Context, apiID, id string) error {
	_, err := r.api.DeleteRoute(ctx, &apigatewayv2.DeleteRouteInput{ApiId: aws.String(apiID), RouteId: aws.String(id)})
	return ignoreNotFound(err, "ルート", id)
}

// DeleteIntegration は統合を削除する。
func (r *APIRepository) DeleteIntegration(ctx context.Context, apiID, id string) error {
	_, err := r.api.DeleteIntegration(ctx, &apigatewayv2.DeleteIntegrationInput{ApiId: aws.String(apiID), IntegrationId: aws.String(id)})
	return ignoreNotFound(err, "統合", id)
}

// DeleteAuthorizer はオーソライザーを削除する。
func (r *APIRepository) DeleteAuthorizer(ctx context.Context, apiID, id string) error {
	_, err := r.api.DeleteAuthorizer(ctx, &apigatewayv2.DeleteAuthorizerInput{ApiId: aws.String(apiID), AuthorizerId: aws.String(id)})
	return ignoreNotFound(err, "オーソライザー", id)
}

// DeleteAPI はAPIを削除する。ルートやステージもまとめて削除される。
func (r *APIRepository) DeleteAPI(ctx context.Context, id string) error {
	_, err := r.api.DeleteApi(ctx, &apigatewayv2.DeleteApiInput{ApiId: aws.String(id)})
	return ignoreNotFound(err, "API", id)
}

// invocationURI はオーソライザーが関数を呼び出すためのURIを返す。
func (r *APIRepository) invocationURI(functionARN string) string {
	return fmt.Sprintf("arn:aws:apigateway:%s:lambda:path/2015-03-31/functions/%s/invocations", r.region, functionARN)
}

func corsConfiguration(c config.CORSConfig) *apitypes.Cors {
	if len(c.AllowOrigins) == 0 {
		return nil
	}
	cors := &apitypes.Cors{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
	}
	if c.MaxAge > 0 {
		cors.MaxAge = aws.Int32(int32(c.MaxAge.Seconds()))
	}
	return cors
}

func ignoreNotFound(err error, kind, id string) error {
	var notFound *apitypes.NotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("%s %s の削除に失敗: %w", kind, id, err)
	}
	return nil
}
