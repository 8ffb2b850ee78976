package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// TestDecodeIntegrationResponse は統合レスポンスの解釈を検証する。
func TestDecodeIntegrationResponse(t *testing.T) {
	testCases := []struct {
		name       string
		payload    string
		wantStatus int
		wantBody   string
		wantErr    bool
	}{
		{name: "構造化レスポンス", payload: `{"statusCode":201,"body":"created"}`, wantStatus: 201, wantBody: "created"},
		{name: "推論されたオブジェクト", payload: `{"message":"Hello World"}`, wantStatus: 200, wantBody: `{"message":"Hello World"}`},
		{name: "推論された文字列", payload: `"Hello"`, wantStatus: 200, wantBody: `"Hello"`},
		{name: "推論されたnull", payload: `null`, wantStatus: 200, wantBody: `null`},
		{name: "数値でないステータス", payload: `{"statusCode":"200"}`, wantErr: true},
		{name: "範囲外のステータス", payload: `{"statusCode":42}`, wantErr: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res, err := decodeIntegrationResponse([]byte(tc.payload))
			if tc.wantErr {
				require.ErrorIs(t, err, errMalformedResponse)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, res.StatusCode)
			require.Equal(t, tc.wantBody, res.Body)
		})
	}
}

// TestWriteIntegrationResponse は統合レスポンスのHTTPへの書き出しを検証する。
func TestWriteIntegrationResponse(t *testing.T) {
	t.Run("base64のボディとCookieと複数値ヘッダーが反映されること", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/books", nil)

		err := writeIntegrationResponse(c, events.APIGatewayV2HTTPResponse{
			StatusCode:        http.StatusAccepted,
			Headers:           map[string]string{"Content-Type": "text/plain"},
			MultiValueHeaders: map[string][]string{"X-Trace": {"a", "b"}},
			Cookies:           []string{"session=abc; HttpOnly"},
			Body:              "SGVsbG8=",
			IsBase64Encoded:   true,
		})
		require.NoError(t, err)
		c.Writer.WriteHeaderNow()

		require.Equal(t, http.StatusAccepted, w.Code)
		require.Equal(t, "Hello", w.Body.String())
		require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
		require.Equal(t, []string{"a", "b"}, w.Header().Values("X-Trace"))
		require.Equal(t, "session=abc; HttpOnly", w.Header().Get("Set-Cookie"))
	})

	t.Run("不正なbase64はエラーになること", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/books", nil)

		err := writeIntegrationResponse(c, events.APIGatewayV2HTTPResponse{
			StatusCode:      http.StatusOK,
			Body:            "***",
			IsBase64Encoded: true,
		})
		require.ErrorIs(t, err, errMalformedResponse)
	})

	t.Run("HEADではボディを返さないこと", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodHead, "/books", nil)

		require.NoError(t, writeIntegrationResponse(c, events.APIGatewayV2HTTPResponse{StatusCode: 200, Body: "x"}))
		c.Writer.WriteHeaderNow()
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Body.String())
	})
}
