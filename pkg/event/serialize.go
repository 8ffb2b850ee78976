package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownType は定義されていないイベント種別を指定した場合のエラー。
	ErrUnknownType = errors.New("未定義のイベント種別です")
	// ErrInvalidVersion はバージョンが1未満の場合のエラー。
	ErrInvalidVersion = errors.New("イベントのバージョンは1以上です")
)

// Valid は定義済みのイベント種別かどうかを判定する。
func (t Type) Valid() bool {
	switch t {
	case TypeStackDeployStarted, TypeResourceCreated, TypeResourceUpdated, TypeResourceDeleted,
		TypeStackDeployed, TypeStackDestroyed, TypeDeployFailed:
		return true
	}
	return false
}

// NewStackEvent はスタックに対するイベントを生成する。
// versionはスタックごとに1から始まる連番。dataはJSONにシリアライズされる。
func NewStackEvent(stack string, eventType Type, version int64, data any) (*Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.NewString(),
		AggregateID:   stack,
		AggregateType: AggregateTypeStack,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベント %s のデータのデシリアライズに失敗: %w", e.EventType, err)
	}
	return &data, nil
}

// Describe はイベントの内容を1行の文字列にする。stack events の表示に使う。
func (e *Event) Describe() (string, error) {
	switch e.EventType {
	case TypeStackDeployStarted:
		d, err := DecodeData[StackDeployStartedData](e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("region=%s account=%s", d.Region, d.AccountID), nil
	case TypeResourceCreated, TypeResourceUpdated, TypeResourceDeleted:
		d, err := DecodeData[ResourceData](e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%s) %s", d.LogicalID, d.Kind, d.PhysicalID), nil
	case TypeStackDeployed:
		d, err := DecodeData[StackDeployedData](e)
		if err != nil {
			return "", err
		}
		keys := make([]string, 0, len(d.Outputs))
		for k := range d.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+d.Outputs[k])
		}
		return strings.Join(pairs, " "), nil
	case TypeDeployFailed:
		d, err := DecodeData[DeployFailedData](e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("step=%s reason=%s", d.Step, d.Reason), nil
	case TypeStackDestroyed:
		return "", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, e.EventType)
}
