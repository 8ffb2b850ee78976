package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/sirupsen/logrus"
)

const (
	// functionWaitTimeout は関数がActiveまたは更新完了になるまで待つ上限。
	functionWaitTimeout = 5 * time.Minute
	// createAttempts は作成直後のロールが引き受け可能になるまでの再試行回数。
	createAttempts = 6
)

// FunctionSpec はデプロイする関数の定義。
type FunctionSpec struct {
	Name         string
	RoleARN      string
	Code         []byte
	Handler      string
	Runtime      string
	Architecture string
	MemorySize   int32
	Timeout      int32
	Environment  map[string]string
}

// FunctionRepository はLambda関数を管理する。
type FunctionRepository struct {
	api        LambdaAPI
	log        logrus.FieldLogger
	retryDelay time.Duration
}

// NewFunctionRepository はFunctionRepositoryを生成する。
// retryDelayはロールの伝播待ちに使う初回の待ち時間。
func NewFunctionRepository(api LambdaAPI, retryDelay time.Duration, log logrus.FieldLogger) *FunctionRepository {
	return &FunctionRepository{api: api, log: log, retryDelay: retryDelay}
}

// Ensure は関数を作成または更新し、ARNを返す。
func (r *FunctionRepository) Ensure(ctx context.Context, spec FunctionSpec) (arn string, created bool, err error) {
	out, err := r.api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(spec.Name)})
	if err != nil {
		var notFound *lambdatypes.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return "", false, fmt.Errorf("関数 %s の取得に失敗: %w", spec.Name, err)
		}
		arn, err := r.create(ctx, spec)
		if err != nil {
			return "", false, err
		}
		return arn, true, nil
	}

	if err := r.update(ctx, spec); err != nil {
		return "", false, err
	}
	return aws.ToString(out.Configuration.FunctionArn), false, nil
}

func (r *FunctionRepository) create(ctx context.Context, spec FunctionSpec) (string, error) {
	input := &lambda.CreateFunctionInput{
		FunctionName:  aws.String(spec.Name),
		Role:          aws.String(spec.RoleARN),
		Code:          &lambdatypes.FunctionCode{ZipFile: spec.Code},
		Handler:       aws.String(spec.Handler),
		Runtime:       lambdatypes.Runtime(spec.Runtime),
		Architectures: architectures(spec.Architecture),
		PackageType:   lambdatypes.PackageTypeZip,
		MemorySize:    aws.Int32(spec.MemorySize),
		Timeout:       aws.Int32(spec.Timeout),
		Environment:   &lambdatypes.Environment{Variables: spec.Environment},
	}

	var arn string
	// 作成直後のロールはLambdaから引き受けられずInvalidParameterValueExceptionになることがある。
	err := retry(ctx, createAttempts, r.retryDelay, func(err error) bool {
		return isAPIErrorCode(err, "InvalidParameterValueException")
	}, func() error {
		out, err := r.api.CreateFunction(ctx, input)
		if err != nil {
			return err
		}
		arn = aws.ToString(out.FunctionArn)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("関数 %s の作成に失敗: %w", spec.Name, err)
	}

	waiter := lambda.NewFunctionActiveWaiter(r.api)
	if err := waiter.Wait(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(spec.Name)}, functionWaitTimeout); err != nil {
		return "", fmt.Errorf("関数 %s がActiveになりません: %w", spec.Name, err)
	}
	r.log.WithField("function", spec.Name).Info("関数を作成")
	return arn, nil
}

func (r *FunctionRepository) update(ctx context.Context, spec FunctionSpec) error {
	if _, err := r.api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName:  aws.String(spec.Name),
		ZipFile:       spec.Code,
		Architectures: architectures(spec.Architecture),
	}); err != nil {
		return fmt.Errorf("関数 %s のコード更新に失敗: %w", spec.Name, err)
	}
	if err := r.waitUpdated(ctx, spec.Name); err != nil {
		return err
	}

	if _, err := r.api.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(spec.Name),
		Role:         aws.String(spec.RoleARN),
		Handler:      aws.String(spec.Handler),
		Runtime:      lambdatypes.Runtime(spec.Runtime),
		MemorySize:   aws.Int32(spec.MemorySize),
		Timeout:      aws.Int32(spec.Timeout),
		Environment:  &lambdatypes.Environment{Variables: spec.Environment},
	}); err != nil {
		return fmt.Errorf("関数 %s の構成更新に失敗: %w", spec.Name, err)
	}
	if err := r.waitUpdated(ctx, spec.Name); err != nil {
		return err
	}
	r.log.WithField("function", spec.Name).Info("関数を更新")
	return nil
}

func (r *FunctionRepository) waitUpdated(ctx context.Context, name string) error {
	waiter := lambda.NewFunctionUpdatedWaiter(r.api)
	if err := waiter.Wait(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)}, functionWaitTimeout); err != nil {
		return fmt.Errorf("関数 %s の更新完了を待てません: %w", name, err)
	}
	return nil
}

// AllowAPIGateway はAPI Gatewayからの呼び出しを許可するリソースポリシーを追加する。
func (r *FunctionRepository) AllowAPIGateway(ctx context.Context, name, statementID, sourceARN string) error {
	_, err := r.api.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(name),
		StatementId:  aws.String(statementID),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String("apigateway.amazonaws.com"),
		SourceArn:    aws.String(sourceARN),
	})
	var conflict *lambdatypes.ResourceConflictException
	if err != nil && !errors.As(err, &conflict) {
		return fmt.Errorf("関数 %s への呼び出し許可の追加に失敗: %w", name, err)
	}
	return nil
}

// RevokeAPIGateway はAllowAPIGatewayで追加したポリシーを削除する。
func (r *FunctionRepository) RevokeAPIGateway(ctx context.Context, name, statementID string) error {
	_, err := r.api.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: aws.String(name),
		StatementId:  aws.String(statementID),
	})
	var notFound *lambdatypes.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("関数 %s の呼び出し許可の削除に失敗: %w", name, err)
	}
	return nil
}

// Delete は関数を削除する。存在しない場合は何もしない。
func (r *FunctionRepository) Delete(ctx context.Context, name string) error {
	_, err := r.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	var notFound *lambdatypes.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("関数 %s の削除に失敗: %w", name, err)
	}
	return nil
}

func architectures(arch string) []lambdatypes.Architecture {
	if arch == "" {
		return nil
	}
	return []lambdatypes.Architecture{lambdatypes.Architecture(arch)}
}
