package volunteerhub_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image (distroless/alpine/scratch), got: %s", lastFrom)
	}
}

func TestDockerfileBuildsCommand(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/volunteerhub") {
		t.Error("Dockerfile should build ./cmd/volunteerhub")
	}
	// modernc.org/sqlite はcgo不要のため静的バイナリにできる
	if !strings.Contains(content, "CGO_ENABLED=0") {
		t.Error("Dockerfile should build a static binary (CGO_ENABLED=0)")
	}
}

func TestDockerfileHealthcheckUsesSubcommand(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// distrolessにはcurlがないため、healthcheckサブコマンドを使うこと
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
	if !strings.Contains(content, "ENTRYPOINT") {
		t.Error("Dockerfile should contain ENTRYPOINT")
	}
}

func TestDockerfilePersistsSessionStore(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "SESSION_DB_PATH=/data/") || !strings.Contains(content, "VOLUME") {
		t.Error("Dockerfile should keep the session store on a volume")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	// 2コンテナ構成: api, minio
	for _, svc := range []string{"api:", "minio:"} {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
	if !strings.Contains(content, "STORAGE_DRIVER: s3") {
		t.Error("docker-compose.yml api service should use the s3 storage driver")
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	// 内部ネットワークの定義（internal: true）
	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true) for the storage service")
	}
	// APIのみ外部通信を許可する
	if !strings.Contains(content, "external:") {
		t.Error("docker-compose.yml should define an external network for API egress")
	}
}

func TestEnvExampleListsRequiredVariables(t *testing.T) {
	content := readFile(t, ".env.example")

	for _, key := range []string{"SUPABASE_URL=", "SUPABASE_ANON_KEY="} {
		if !strings.Contains(content, key) {
			t.Errorf(".env.example should contain %q", key)
		}
	}
}
