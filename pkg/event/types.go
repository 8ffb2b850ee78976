// Package event はスタックのデプロイ履歴を表すイベントを定義する。
//
// デプロイ・削除の各ステップはイベントとして状態ストアに追記され、
// stack events コマンドで時系列に参照できる。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeStack はスタックを表す。
	AggregateTypeStack AggregateType = "Stack"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeStackDeployStarted はデプロイが開始されたことを表す。
	TypeStackDeployStarted Type = "StackDeployStarted"
	// TypeResourceCreated はリソースが作成されたことを表す。
	TypeResourceCreated Type = "ResourceCreated"
	// TypeResourceUpdated は既存のリソースが更新されたことを表す。
	TypeResourceUpdated Type = "ResourceUpdated"
	// TypeResourceDeleted はリソースが削除されたことを表す。
	TypeResourceDeleted Type = "ResourceDeleted"
	// TypeStackDeployed はデプロイが完了し出力が確定したことを表す。
	TypeStackDeployed Type = "StackDeployed"
	// TypeStackDestroyed はスタックのリソースがすべて削除されたことを表す。
	TypeStackDestroyed Type = "StackDestroyed"
	// TypeDeployFailed はデプロイまたは削除が途中で失敗したことを表す。
	TypeDeployFailed Type = "DeployFailed"
)

// Event はスタックに対する不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象スタックの名前。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はスタック内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// StackDeployStartedData はStackDeployStartedイベントのデータ。
type StackDeployStartedData struct {
	// Region はデプロイ先のリージョン。
	Region string `json:"region"`
	// AccountID はデプロイ先のアカウントID。
	AccountID string `json:"account_id"`
}

// ResourceData はリソースの作成・更新・削除イベントのデータ。
type ResourceData struct {
	// LogicalID はスタック内でのリソースの論理ID。
	LogicalID string `json:"logical_id"`
	// Kind はリソースの種類。例: function, api, authorizer
	Kind string `json:"kind"`
	// PhysicalID はAWS上の識別子（名前、IDまたはARN）。
	PhysicalID string `json:"physical_id"`
}

// StackDeployedData はStackDeployedイベントのデータ。
type StackDeployedData struct {
	// Outputs はスタックの出力。
	Outputs map[string]string `json:"outputs"`
}

// DeployFailedData はDeployFailedイベントのデータ。
type DeployFailedData struct {
	// Step は失敗したステップ。
	Step string `json:"step"`
	// Reason は失敗の理由。
	Reason string `json:"reason"`
}
