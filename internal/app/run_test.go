package app

import (
	"bytes"
	"testing"
)

// TestRun_ServeCommand_OpensDBConnection はserveコマンドがDB接続を試みることを検証する。
// テスト環境ではDB接続が失敗するため、エラーが返ることを許容する。
func TestRun_ServeCommand_OpensDBConnection(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	// DB接続が存在しないため、エラーが返ることを期待する。
	if err == nil {
		// CI/ローカルにDBがある場合はサーバーが即時終了しないため、ここに到達する可能性がある。
		t.Log("Run(serve) succeeded - DB is available in test environment")
	}
}

// TestRun_MigrateCommand_RequiresDB はmigrateコマンドがDB接続を試みることを検証する。
func TestRun_MigrateCommand_RequiresDB(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil {
		t.Log("Run(migrate) succeeded - DB is available in test environment")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	clearTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

// TestRun_Healthcheck_FailsWithoutServer はサーバー未起動時にhealthcheckが失敗することを検証する。
func TestRun_Healthcheck_FailsWithoutServer(t *testing.T) {
	t.Setenv("SERVER_PORT", "59999")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err == nil {
		t.Error("healthcheck should fail when no server is listening")
	}
}
