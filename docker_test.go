package talentstrike_test

import (
	"bufio"
	"os"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/talentstrike/internal/app"
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]*struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Build       string            `yaml:"build"`
	Command     []string          `yaml:"command"`
	Environment map[string]string `yaml:"environment"`
	DependsOn   map[string]struct {
		Condition string `yaml:"condition"`
	} `yaml:"depends_on"`
	Healthcheck *struct {
		Test []string `yaml:"test"`
	} `yaml:"healthcheck"`
	Networks []string `yaml:"networks"`
}

func loadCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("docker-compose.yml を読めない: %v", err)
	}
	var c composeFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("docker-compose.yml を解析できない: %v", err)
	}
	return c
}

// dockerInstruction はDockerfileの1命令。継続行は扱わない。
type dockerInstruction struct {
	op   string
	args string
}

func loadDockerfile(t *testing.T) []dockerInstruction {
	t.Helper()
	f, err := os.Open("Dockerfile")
	if err != nil {
		t.Fatalf("Dockerfile を開けない: %v", err)
	}
	defer f.Close()

	var out []dockerInstruction
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		op, args, _ := strings.Cut(line, " ")
		out = append(out, dockerInstruction{op: strings.ToUpper(op), args: strings.TrimSpace(args)})
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func lastInstruction(ins []dockerInstruction, op string) string {
	var args string
	for _, in := range ins {
		if in.op == op {
			args = in.args
		}
	}
	return args
}

func TestDockerfile_BuildsStaticBinaryIntoDistroless(t *testing.T) {
	ins := loadDockerfile(t)

	var froms []string
	for _, in := range ins {
		if in.op == "FROM" {
			froms = append(froms, in.args)
		}
	}
	if len(froms) < 2 {
		t.Fatalf("マルチステージではない: FROM = %v", froms)
	}
	if !strings.HasPrefix(froms[0], "golang:") || !strings.HasSuffix(froms[0], " AS build") {
		t.Errorf("ビルドステージ = %q", froms[0])
	}
	if last := froms[len(froms)-1]; !strings.HasPrefix(last, "gcr.io/distroless/static") {
		t.Errorf("実行ステージ = %q, want distroless static", last)
	}

	var build string
	for _, in := range ins {
		if in.op == "RUN" && strings.Contains(in.args, "go build") {
			build = in.args
		}
	}
	if !strings.Contains(build, "CGO_ENABLED=0") || !strings.HasSuffix(build, "-o /out/talentstrike ./cmd/talentstrike") {
		t.Errorf("go build = %q", build)
	}
	if user := lastInstruction(ins, "USER"); !strings.HasPrefix(user, "nonroot") {
		t.Errorf("USER = %q, want nonroot", user)
	}
}

func TestDockerfile_EntrypointAndHealthcheckUseKnownSubcommands(t *testing.T) {
	ins := loadDockerfile(t)

	if got := lastInstruction(ins, "ENTRYPOINT"); got != `["/talentstrike"]` {
		t.Errorf("ENTRYPOINT = %s", got)
	}

	var cmd []string
	if err := yaml.Unmarshal([]byte(lastInstruction(ins, "CMD")), &cmd); err != nil {
		t.Fatalf("CMD を解析できない: %v", err)
	}
	if c, err := app.ParseCommand(cmd); err != nil || c != app.CommandServe {
		t.Errorf("CMD %v = (%v, %v), want serve", cmd, c, err)
	}

	hc := lastInstruction(ins, "HEALTHCHECK")
	_, probe, ok := strings.Cut(hc, "CMD ")
	if !ok {
		t.Fatalf("HEALTHCHECK にCMDがない: %q", hc)
	}
	var hcArgs []string
	if err := yaml.Unmarshal([]byte(probe), &hcArgs); err != nil || len(hcArgs) < 2 || hcArgs[0] != "/talentstrike" {
		t.Fatalf("HEALTHCHECK CMD = %q", probe)
	}
	if c, err := app.ParseCommand(hcArgs[1:]); err != nil || c != app.CommandHealthcheck {
		t.Errorf("HEALTHCHECK %v = (%v, %v), want healthcheck", hcArgs, c, err)
	}
}

func TestCompose_AppServicesRunKnownSubcommands(t *testing.T) {
	c := loadCompose(t)

	want := map[string]app.Command{
		"migrate": app.CommandMigrate,
		"api":     app.CommandServe,
		"worker":  app.CommandWorker,
	}
	for name, wantCmd := range want {
		svc, ok := c.Services[name]
		if !ok {
			t.Errorf("サービス %s がない", name)
			continue
		}
		if svc.Build == "" {
			t.Errorf("%s はこのリポジトリからビルドするべき", name)
		}
		got, err := app.ParseCommand(svc.Command)
		if err != nil || got != wantCmd {
			t.Errorf("%s: command %v = (%v, %v), want %v", name, svc.Command, got, err, wantCmd)
		}
		for _, key := range []string{"DATABASE_URL", "BASE_URL"} {
			if svc.Environment[key] == "" {
				t.Errorf("%s: 必須の環境変数 %s がない", name, key)
			}
		}
	}
}

func TestCompose_MigrateRunsBeforeAPIAndWorker(t *testing.T) {
	c := loadCompose(t)

	db := c.Services["db"]
	if !strings.HasPrefix(db.Image, "postgres:") || db.Healthcheck == nil {
		t.Fatalf("db = %+v, want postgres with healthcheck", db)
	}
	if cond := c.Services["migrate"].DependsOn["db"].Condition; cond != "service_healthy" {
		t.Errorf("migrate -> db condition = %q", cond)
	}
	for _, name := range []string{"api", "worker"} {
		if cond := c.Services[name].DependsOn["migrate"].Condition; cond != "service_completed_successfully" {
			t.Errorf("%s -> migrate condition = %q", name, cond)
		}
	}
}

func TestCompose_OnlyAPIReachesExternalNetwork(t *testing.T) {
	c := loadCompose(t)

	internal, ok := c.Networks["internal"]
	if !ok || internal == nil || !internal.Internal {
		t.Fatal("internal ネットワークは internal: true であるべき")
	}
	if _, ok := c.Networks["external"]; !ok {
		t.Fatal("external ネットワークがない")
	}

	for name, svc := range c.Services {
		if !slices.Contains(svc.Networks, "internal") {
			t.Errorf("%s が internal ネットワークにいない", name)
		}
		onExternal := slices.Contains(svc.Networks, "external")
		if onExternal != (name == "api") {
			t.Errorf("%s: external = %v", name, onExternal)
		}
	}
}
