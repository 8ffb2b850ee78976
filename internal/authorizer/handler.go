package authorizer

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// Handler はLambda関数として動作するオーソライザー。
type Handler struct {
	authz Authorizer
	log   logrus.FieldLogger
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(authz Authorizer, log logrus.FieldLogger) *Handler {
	return &Handler{authz: authz, log: log}
}

// HandleLambda はペイロード形式2.0のオーソライザーイベントを単純応答で判定する。
func (h *Handler) HandleLambda(ctx context.Context, event events.APIGatewayV2CustomAuthorizerV2Request) (events.APIGatewayV2CustomAuthorizerSimpleResponse, error) {
	h.log.WithFields(logrus.Fields{
		"request_id": event.RequestContext.RequestID,
		"route_arn":  event.RouteArn,
		"route_key":  event.RouteKey,
	}).Debug("オーソライザーイベントを受信")

	v := h.authz.Authorize(ctx, Request{
		RouteArn:       event.RouteArn,
		RouteKey:       event.RouteKey,
		Headers:        event.Headers,
		IdentitySource: event.IdentitySource,
	})
	return events.APIGatewayV2CustomAuthorizerSimpleResponse{
		IsAuthorized: v.IsAuthorized,
		Context:      v.Context,
	}, nil
}
