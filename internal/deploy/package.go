package deploy

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// bootstrapName はprovidedランタイムが起動する実行ファイル名。
const bootstrapName = "bootstrap"

// Package はビルド済みバイナリをbootstrapという名前で格納したデプロイパッケージを作成する。
func Package(binaryPath, zipPath string) (err error) {
	src, err := os.Open(binaryPath)
	if err != nil {
		return fmt.Errorf("バイナリ %s のオープンに失敗: %w", binaryPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("バイナリ %s の情報取得に失敗: %w", binaryPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return fmt.Errorf("出力先ディレクトリの作成に失敗: %w", err)
	}
	dst, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("パッケージ %s の作成に失敗: %w", zipPath, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("パッケージ %s のクローズに失敗: %w", zipPath, cerr)
		}
	}()

	zw := zip.NewWriter(dst)
	header := &zip.FileHeader{
		Name:     bootstrapName,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	header.SetMode(0o755)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("パッケージへのエントリ追加に失敗: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("バイナリの書き込みに失敗: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("パッケージの書き込みに失敗: %w", err)
	}
	return nil
}
