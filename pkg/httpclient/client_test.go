package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// message は /books の応答ボディ。
type message struct {
	Message string `json:"message"`
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("末尾のスラッシュが取り除かれること", func(t *testing.T) {
		t.Parallel()

		client := New("https://abc123.execute-api.us-east-1.amazonaws.com/")
		if client.baseURL != "https://abc123.execute-api.us-east-1.amazonaws.com" {
			t.Errorf("baseURL = %q", client.baseURL)
		}
	})

	t.Run("タイムアウトが30秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout.Seconds() != 30 {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Path = r.URL.Path
			received.Body, _ = io.ReadAll(r.Body)
			received.Headers = r.Header

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(message{Message: "Hello World"})
		}))
		defer ts.Close()

		var result message
		if err := New(ts.URL).GetJSON(context.Background(), "/books", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if received.Method != http.MethodGet {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodGet)
		}
		if received.Path != "/books" {
			t.Errorf("Path = %q, want %q", received.Path, "/books")
		}
		if len(received.Body) != 0 {
			t.Errorf("GETリクエストにボディが含まれている: %q", string(received.Body))
		}
		if got := received.Headers.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		if result.Message != "Hello World" {
			t.Errorf("Message = %q, want %q", result.Message, "Hello World")
		}
	})

	t.Run("ベアラートークンが伝播されること", func(t *testing.T) {
		t.Parallel()

		var authorization string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(message{Message: "ok"})
		}))
		defer ts.Close()

		ctx := WithBearerToken(context.Background(), "signed-token")
		if err := New(ts.URL).GetJSON(ctx, "/books", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if authorization != "Bearer signed-token" {
			t.Errorf("Authorization = %q, want %q", authorization, "Bearer signed-token")
		}
	})

	t.Run("2xx以外はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Forbidden"}`))
		}))
		defer ts.Close()

		err := New(ts.URL).GetJSON(context.Background(), "/books", nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if statusErr.StatusCode != http.StatusForbidden {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusForbidden)
		}
		if statusErr.Body != `{"message":"Forbidden"}` {
			t.Errorf("Body = %q", statusErr.Body)
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{invalid json}`))
		}))
		defer ts.Close()

		var result message
		if err := New(ts.URL).GetJSON(context.Background(), "/books", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if err := New("http://127.0.0.1:1").GetJSON(context.Background(), "/books", nil); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(message{Message: "ok"})
		}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := New(ts.URL).GetJSON(ctx, "/books", nil); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestPostJSON はPostJSON関数を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	var received testRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Method = r.Method
		received.Body, _ = io.ReadAll(r.Body)
		received.Headers = r.Header
		_ = json.NewEncoder(w).Encode(message{Message: "Hello World"})
	}))
	defer ts.Close()

	var result message
	if err := New(ts.URL).PostJSON(context.Background(), "/books", map[string]string{"title": "Go"}, &result); err != nil {
		t.Fatalf("PostJSON()でエラーが発生: %v", err)
	}
	if received.Method != http.MethodPost {
		t.Errorf("Method = %q, want %q", received.Method, http.MethodPost)
	}
	if string(received.Body) != `{"title":"Go"}` {
		t.Errorf("Body = %q", string(received.Body))
	}
	if got := received.Headers.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if result.Message != "Hello World" {
		t.Errorf("Message = %q, want %q", result.Message, "Hello World")
	}
}

// TestPreflight はPreflight関数を検証する。
func TestPreflight(t *testing.T) {
	t.Parallel()

	var received testRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Method = r.Method
		received.Headers = r.Header
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD,OPTIONS,POST")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	got, err := New(ts.URL).Preflight(context.Background(), "/books", "https://example.com", http.MethodPost)
	if err != nil {
		t.Fatalf("Preflight()でエラーが発生: %v", err)
	}

	if received.Method != http.MethodOptions {
		t.Errorf("Method = %q, want %q", received.Method, http.MethodOptions)
	}
	if h := received.Headers.Get("Access-Control-Request-Method"); h != http.MethodPost {
		t.Errorf("Access-Control-Request-Method = %q, want %q", h, http.MethodPost)
	}
	if got.StatusCode != http.StatusNoContent {
		t.Errorf("StatusCode = %d, want %d", got.StatusCode, http.StatusNoContent)
	}
	if got.AllowOrigin != "*" {
		t.Errorf("AllowOrigin = %q, want %q", got.AllowOrigin, "*")
	}
	want := []string{"GET", "HEAD", "OPTIONS", "POST"}
	if len(got.AllowMethods) != len(want) {
		t.Fatalf("AllowMethods = %v, want %v", got.AllowMethods, want)
	}
	for i := range want {
		if got.AllowMethods[i] != want[i] {
			t.Errorf("AllowMethods[%d] = %q, want %q", i, got.AllowMethods[i], want[i])
		}
	}
	if got.AllowHeaders != nil {
		t.Errorf("AllowHeaders = %v, want nil", got.AllowHeaders)
	}
}
