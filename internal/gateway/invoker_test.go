package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/require"
)

// TestLocalInvoker はプロセス内の関数呼び出しを検証する。
func TestLocalInvoker(t *testing.T) {
	ctx := context.Background()
	inv := NewLocalInvoker()
	inv.Register("echo", func(_ context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return events.APIGatewayV2HTTPResponse{StatusCode: 201, Body: req.RawPath}, nil
	})
	inv.Register("broken", func(_ context.Context) error {
		return errors.New("boom")
	})

	out, err := inv.Invoke(ctx, "echo", []byte(`{"rawPath":"/books"}`))
	require.NoError(t, err)
	res, err := decodeIntegrationResponse(out)
	require.NoError(t, err)
	require.Equal(t, 201, res.StatusCode)
	require.Equal(t, "/books", res.Body)

	_, err = inv.Invoke(ctx, "broken", []byte(`{}`))
	require.ErrorIs(t, err, ErrFunctionError)

	_, err = inv.Invoke(ctx, "missing", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownFunction)
}

type fakeLambdaInvoke struct {
	input *awslambda.InvokeInput
	out   *awslambda.InvokeOutput
	err   error
}

func (f *fakeLambdaInvoke) Invoke(_ context.Context, params *awslambda.InvokeInput, _ ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	f.input = params
	return f.out, f.err
}

// TestLambdaInvoker はLambda APIを使う関数呼び出しを検証する。
func TestLambdaInvoker(t *testing.T) {
	ctx := context.Background()

	t.Run("ペイロードが返ること", func(t *testing.T) {
		fake := &fakeLambdaInvoke{out: &awslambda.InvokeOutput{StatusCode: 200, Payload: []byte(`{"isAuthorized":true}`)}}
		out, err := NewLambdaInvoker(fake).Invoke(ctx, "test-agent-authorizer", []byte(`{}`))
		require.NoError(t, err)
		require.JSONEq(t, `{"isAuthorized":true}`, string(out))
		require.Equal(t, "test-agent-authorizer", aws.ToString(fake.input.FunctionName))
		require.Equal(t, types.InvocationTypeRequestResponse, fake.input.InvocationType)
	})

	t.Run("関数エラーはエラーになること", func(t *testing.T) {
		fake := &fakeLambdaInvoke{out: &awslambda.InvokeOutput{
			StatusCode:    200,
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`{"errorMessage":"boom"}`),
		}}
		_, err := NewLambdaInvoker(fake).Invoke(ctx, "test-hello-world", nil)
		require.ErrorIs(t, err, ErrFunctionError)
	})

	t.Run("関数が存在しない場合はエラーになること", func(t *testing.T) {
		fake := &fakeLambdaInvoke{err: &types.ResourceNotFoundException{Message: aws.String("not found")}}
		_, err := NewLambdaInvoker(fake).Invoke(ctx, "missing", nil)
		require.ErrorIs(t, err, ErrUnknownFunction)
	})

	t.Run("通信エラーはエラーになること", func(t *testing.T) {
		fake := &fakeLambdaInvoke{err: errors.New("dial tcp: timeout")}
		_, err := NewLambdaInvoker(fake).Invoke(ctx, "test-hello-world", nil)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrUnknownFunction)
	})
}
