// Package logger は構成に従ってlogrusのロガーを生成する。
//
// Lambda関数ではCloudWatch Logsで検索しやすいようJSON形式、ローカル開発では
// テキスト形式を使う。
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// timestampFormat はログのタイムスタンプ形式。
const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// New はレベルと書式からロガーを生成する。出力先は標準出力。
// formatは "json" または "text"。
func New(level, format string) *logrus.Logger {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter は出力先を指定してロガーを生成する。
// 解釈できないレベルはinfo、text以外の書式はJSONとして扱う。
func NewWithWriter(level, format string, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	}
	return log
}

// Discard は出力を捨てるロガーを返す。テストで使用する。
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
