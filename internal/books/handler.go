package books

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// Message はルートハンドラーが返す固定メッセージ。
const Message = "Hello World"

// Response はルートハンドラーの応答。
type Response struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// messageBody は応答ボディのJSON表現。
type messageBody struct {
	Message string `json:"message"`
}

// Handle は固定の応答を返す。
func Handle(_ context.Context) Response {
	// 固定の構造体のためエラーにならない
	body, _ := json.Marshal(messageBody{Message: Message})
	return Response{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// Handler はLambda関数として動作するルートハンドラー。
type Handler struct {
	log logrus.FieldLogger
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(log logrus.FieldLogger) *Handler {
	return &Handler{log: log}
}

// HandleLambda はペイロード形式2.0のHTTP APIイベントを処理する。
func (h *Handler) HandleLambda(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	fields := logrus.Fields{
		"request_id": req.RequestContext.RequestID,
		"route_key":  req.RouteKey,
	}
	if az := req.RequestContext.Authorizer; az != nil && az.Lambda != nil {
		fields["authorizer_sub"] = az.Lambda["sub"]
	}
	h.log.WithFields(fields).Info("リクエストを受信")

	res := Handle(ctx)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		Body:       res.Body,
	}, nil
}
