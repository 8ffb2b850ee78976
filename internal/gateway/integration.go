package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/config"
)

// requestTimeFormat はrequestContext.timeの形式。
const requestTimeFormat = "02/Jan/2006:15:04:05 -0700"

// errMalformedResponse は統合の応答が解釈できない場合のエラー。
var errMalformedResponse = errors.New("統合の応答が不正です")

// integrate はルートの統合先の関数を呼び出すハンドラーを返す。
func (s *Server) integrate(route config.RouteConfig) gin.HandlerFunc {
	function := s.cfg.Functions[route.Integration].Name
	routeKey := route.Key()

	return func(c *gin.Context) {
		log := s.log.WithFields(logrus.Fields{
			"route_key":  routeKey,
			"function":   function,
			"request_id": requestID(c),
		})

		event, err := s.httpEvent(c, routeKey)
		if err != nil {
			log.WithError(err).Error("リクエストの読み込みに失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Error("イベントのエンコードに失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		out, err := s.invoker.Invoke(c.Request.Context(), function, payload)
		s.metrics.observeInvocation(function, err)
		if err != nil {
			log.WithError(err).Error("統合の呼び出しに失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		res, err := decodeIntegrationResponse(out)
		if err != nil {
			log.WithError(err).Error("統合の応答の解釈に失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if err := writeIntegrationResponse(c, res); err != nil {
			log.WithError(err).Error("統合の応答の書き込みに失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
		}
	}
}

// httpEvent はルートハンドラー関数に渡すペイロード形式2.0のイベントを組み立てる。
func (s *Server) httpEvent(c *gin.Context, routeKey string) (events.APIGatewayV2HTTPRequest, error) {
	var body []byte
	if c.Request.Body != nil {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return events.APIGatewayV2HTTPRequest{}, fmt.Errorf("リクエストボディの読み込みに失敗: %w", err)
		}
		body = b
	}

	event := events.APIGatewayV2HTTPRequest{
		Version:               "2.0",
		RouteKey:              routeKey,
		RawPath:               c.Request.URL.Path,
		RawQueryString:        c.Request.URL.RawQuery,
		Cookies:               cookies(c.Request),
		Headers:               headers(c.Request),
		QueryStringParameters: queryParameters(c.Request),
		PathParameters:        pathParameters(c),
		RequestContext:        s.requestContext(c, routeKey),
	}
	if len(body) > 0 {
		if utf8.Valid(body) {
			event.Body = string(body)
		} else {
			event.Body = base64.StdEncoding.EncodeToString(body)
			event.IsBase64Encoded = true
		}
	}
	if lambdaCtx, ok := authorizerContext(c); ok {
		event.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
			Lambda: lambdaCtx,
		}
	}
	return event, nil
}

// requestContext はイベントのrequestContextを組み立てる。
func (s *Server) requestContext(c *gin.Context, routeKey string) events.APIGatewayV2HTTPRequestContext {
	now := time.Now()
	host := c.Request.Host
	domainPrefix, _, _ := strings.Cut(host, ".")
	return events.APIGatewayV2HTTPRequestContext{
		RouteKey:     routeKey,
		AccountID:    s.accountID(),
		Stage:        s.cfg.Gateway.Stage,
		RequestID:    requestID(c),
		APIID:        s.apiID,
		DomainName:   host,
		DomainPrefix: domainPrefix,
		Time:         now.Format(requestTimeFormat),
		TimeEpoch:    now.UnixMilli(),
		HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Protocol:  c.Request.Proto,
			SourceIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	}
}

// decodeIntegrationResponse は関数の応答を解釈する。
// statusCodeを含むオブジェクトはそのまま使い、それ以外は200のJSONボディとして扱う。
func decodeIntegrationResponse(payload []byte) (events.APIGatewayV2HTTPResponse, error) {
	trimmed := bytes.TrimSpace(payload)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err == nil {
			if _, ok := fields["statusCode"]; ok {
				var res events.APIGatewayV2HTTPResponse
				if err := json.Unmarshal(trimmed, &res); err != nil {
					return events.APIGatewayV2HTTPResponse{}, fmt.Errorf("%w: %w", errMalformedResponse, err)
				}
				if res.StatusCode < 100 || res.StatusCode > 599 {
					return events.APIGatewayV2HTTPResponse{}, fmt.Errorf("%w: statusCode %d", errMalformedResponse, res.StatusCode)
				}
				return res, nil
			}
		}
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(payload),
	}, nil
}

// writeIntegrationResponse は関数の応答をHTTPレスポンスとして書き込む。
func writeIntegrationResponse(c *gin.Context, res events.APIGatewayV2HTTPResponse) error {
	body := []byte(res.Body)
	if res.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return fmt.Errorf("%w: base64のデコードに失敗: %w", errMalformedResponse, err)
		}
		body = decoded
	}

	h := c.Writer.Header()
	for k, v := range res.Headers {
		h.Set(k, v)
	}
	for k, vs := range res.MultiValueHeaders {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, cookie := range res.Cookies {
		h.Add("Set-Cookie", cookie)
	}

	c.Status(res.StatusCode)
	if c.Request.Method == http.MethodHead {
		return nil
	}
	if _, err := c.Writer.Write(body); err != nil {
		return fmt.Errorf("レスポンスボディの書き込みに失敗: %w", err)
	}
	return nil
}

// headers はリクエストヘッダーを小文字のキーにまとめる。Cookieはcookiesに分ける。
func headers(r *http.Request) map[string]string {
	h := make(map[string]string, len(r.Header)+1)
	for k, vs := range r.Header {
		if strings.EqualFold(k, "Cookie") {
			continue
		}
		h[strings.ToLower(k)] = strings.Join(vs, ",")
	}
	if r.Host != "" {
		h["host"] = r.Host
	}
	return h
}

// cookies はCookieヘッダーを name=value の一覧にする。
func cookies(r *http.Request) []string {
	cs := r.Cookies()
	if len(cs) == 0 {
		return nil
	}
	out := make([]string, 0, len(cs))
	for _, ck := range cs {
		out = append(out, ck.Name+"="+ck.Value)
	}
	return out
}

// queryParameters はクエリ文字列をイベントの形式にする。同じキーの値はカンマで連結する。
func queryParameters(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	params := make(map[string]string, len(q))
	for k, vs := range q {
		params[k] = strings.Join(vs, ",")
	}
	return params
}
