package authorizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedVerdict はオーソライザーの応答が単純応答形式でない場合のエラー。
var ErrMalformedVerdict = errors.New("オーソライザーの応答が不正です")

// ParseVerdict は単純応答形式のペイロードを厳密に解釈する。
// isAuthorized が存在しない、または真偽値でない場合は ErrMalformedVerdict を返す。
func ParseVerdict(payload []byte) (Verdict, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrMalformedVerdict, err)
	}
	if fields == nil {
		return Verdict{}, fmt.Errorf("%w: オブジェクトではありません", ErrMalformedVerdict)
	}

	raw, ok := fields["isAuthorized"]
	if !ok {
		return Verdict{}, fmt.Errorf("%w: isAuthorized がありません", ErrMalformedVerdict)
	}
	var authorized bool
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Verdict{}, fmt.Errorf("%w: isAuthorized がnullです", ErrMalformedVerdict)
	}
	if err := json.Unmarshal(raw, &authorized); err != nil {
		return Verdict{}, fmt.Errorf("%w: isAuthorized が真偽値ではありません", ErrMalformedVerdict)
	}

	v := Verdict{IsAuthorized: authorized}
	if rawCtx, ok := fields["context"]; ok && !bytes.Equal(bytes.TrimSpace(rawCtx), []byte("null")) {
		if err := json.Unmarshal(rawCtx, &v.Context); err != nil {
			return Verdict{}, fmt.Errorf("%w: context がオブジェクトではありません", ErrMalformedVerdict)
		}
	}
	return v, nil
}
