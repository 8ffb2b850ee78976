package authorizer

import (
	"errors"
	"testing"
)

// TestParseVerdict は単純応答の厳密な解釈を検証する。
func TestParseVerdict(t *testing.T) {
	t.Parallel()

	t.Run("許可の応答が解釈できること", func(t *testing.T) {
		t.Parallel()

		v, err := ParseVerdict([]byte(`{"isAuthorized":true,"context":{"sub":"user-1"}}`))
		if err != nil {
			t.Fatalf("ParseVerdict()でエラーが発生: %v", err)
		}
		if !v.IsAuthorized {
			t.Error("IsAuthorized = false, want true")
		}
		if v.Context["sub"] != "user-1" {
			t.Errorf("context.sub = %v, want %q", v.Context["sub"], "user-1")
		}
	})

	t.Run("拒否の応答が解釈できること", func(t *testing.T) {
		t.Parallel()

		v, err := ParseVerdict([]byte(`{"isAuthorized":false}`))
		if err != nil {
			t.Fatalf("ParseVerdict()でエラーが発生: %v", err)
		}
		if v.IsAuthorized {
			t.Error("IsAuthorized = true, want false")
		}
	})

	tests := []struct {
		name    string
		payload string
	}{
		{name: "isAuthorizedなし", payload: `{}`},
		{name: "文字列のisAuthorized", payload: `{"isAuthorized":"true"}`},
		{name: "数値のisAuthorized", payload: `{"isAuthorized":1}`},
		{name: "nullのisAuthorized", payload: `{"isAuthorized":null}`},
		{name: "IAMポリシー形式", payload: `{"principalId":"user","policyDocument":{}}`},
		{name: "配列のcontext", payload: `{"isAuthorized":true,"context":[1]}`},
		{name: "JSONのnull", payload: `null`},
		{name: "JSONでない", payload: `Hello`},
		{name: "空", payload: ``},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name+"はErrMalformedVerdictになること", func(t *testing.T) {
			t.Parallel()

			if _, err := ParseVerdict([]byte(tt.payload)); !errors.Is(err, ErrMalformedVerdict) {
				t.Errorf("err = %v, want %v", err, ErrMalformedVerdict)
			}
		})
	}
}
