package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

var (
	// ErrUnknownFunction は呼び出し先の関数が登録されていない場合のエラー。
	ErrUnknownFunction = errors.New("関数が登録されていません")
	// ErrFunctionError は関数の実行がエラーで終了した場合のエラー。
	ErrFunctionError = errors.New("関数の実行に失敗")
)

// Invoker は関数名とペイロードを受け取り、関数を同期的に呼び出す。
type Invoker interface {
	Invoke(ctx context.Context, function string, payload []byte) ([]byte, error)
}

// LocalInvoker はプロセス内に登録したハンドラーを呼び出す。
type LocalInvoker struct {
	mu       sync.RWMutex
	handlers map[string]lambda.Handler
}

// NewLocalInvoker は新しいLocalInvokerを生成する。
func NewLocalInvoker() *LocalInvoker {
	return &LocalInvoker{handlers: make(map[string]lambda.Handler)}
}

// Register は関数名にハンドラーを登録する。
// handlerにはlambda.Startに渡せるものと同じ形の関数を指定する。
func (l *LocalInvoker) Register(function string, handler any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[function] = lambda.NewHandler(handler)
}

// Invoke は登録済みのハンドラーを呼び出す。
func (l *LocalInvoker) Invoke(ctx context.Context, function string, payload []byte) ([]byte, error) {
	l.mu.RLock()
	h, ok := l.handlers[function]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, function)
	}

	out, err := h.Invoke(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFunctionError, function, err)
	}
	return out, nil
}

// LambdaInvokeAPI はLambdaInvokerが使うLambda APIの操作。
type LambdaInvokeAPI interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

var _ LambdaInvokeAPI = (*awslambda.Client)(nil)

// LambdaInvoker はデプロイ済みのLambda関数を呼び出す。
type LambdaInvoker struct {
	client LambdaInvokeAPI
}

// NewLambdaInvoker は新しいLambdaInvokerを生成する。
func NewLambdaInvoker(client LambdaInvokeAPI) *LambdaInvoker {
	return &LambdaInvoker{client: client}
}

// Invoke はLambda関数を同期呼び出しする。関数側のエラーはErrFunctionErrorとして返す。
func (l *LambdaInvoker) Invoke(ctx context.Context, function string, payload []byte) ([]byte, error) {
	out, err := l.client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnknownFunction, function, err)
		}
		return nil, fmt.Errorf("Lambda関数 %s の呼び出しに失敗: %w", function, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("%w: %s: %s: %s", ErrFunctionError, function, aws.ToString(out.FunctionError), out.Payload)
	}
	return out.Payload, nil
}
