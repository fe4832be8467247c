//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	mysqlImage        = "mysql:8.0.36"
	postgresImage     = "postgres:16-alpine"
	databaseName      = "sqlqueue"
	databaseUser      = "root"
	databasePassword  = "secret"
	cliContainerImage = "alpine:3.20"
	cliContainerPath  = "/cli"
	cliExitTimeout    = 2 * time.Minute
	startupTimeout    = 2 * time.Minute
)

// Database is a started database container reachable from the host and from
// other containers on Network.
type Database struct {
	Container testcontainers.Container
	Network   *testcontainers.DockerNetwork
	DB        *sql.DB
	// DSN addresses the database from inside Network.
	DSN string
}

// StartMySQLContainer starts MySQL 8 and skips the test when Docker is unavailable.
func StartMySQLContainer(t *testing.T, ctx context.Context) Database {
	t.Helper()

	dsn := func(host, port string) string {
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
			databaseUser,
			databasePassword,
			host,
			port,
			databaseName,
		)
	}

	return startDatabase(t, ctx, "mysql", "mysql", nat.Port("3306/tcp"), testcontainers.ContainerRequest{
		Image: mysqlImage,
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": databasePassword,
			"MYSQL_DATABASE":      databaseName,
		},
	}, dsn)
}

// StartPostgresContainer starts PostgreSQL and skips the test when Docker is unavailable.
func StartPostgresContainer(t *testing.T, ctx context.Context) Database {
	t.Helper()

	dsn := func(host, port string) string {
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			databaseUser,
			databasePassword,
			host,
			port,
			databaseName,
		)
	}

	return startDatabase(t, ctx, "postgres", "pgx", nat.Port("5432/tcp"), testcontainers.ContainerRequest{
		Image: postgresImage,
		Env: map[string]string{
			"POSTGRES_USER":     databaseUser,
			"POSTGRES_PASSWORD": databasePassword,
			"POSTGRES_DB":       databaseName,
		},
	}, dsn)
}

func startDatabase(
	t *testing.T,
	ctx context.Context,
	alias, driver string,
	port nat.Port,
	req testcontainers.ContainerRequest,
	dsn func(host, port string) string,
) Database {
	t.Helper()

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	req.ExposedPorts = []string{string(port)}
	req.Networks = []string{net.Name}
	req.NetworkAliases = map[string][]string{net.Name: {alias}}
	req.WaitingFor = wait.ForSQL(port, driver, func(host string, port nat.Port) string {
		return dsn(host, port.Port())
	}).WithStartupTimeout(startupTimeout)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", alias, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	db, err := sql.Open(driver, dsn(host, mappedPort.Port()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return Database{
		Container: container,
		Network:   net,
		DB:        db,
		DSN:       dsn(alias, port.Port()),
	}
}

// BuildBinary compiles pkg for linux so it can run inside a CLI container.
func BuildBinary(t *testing.T, pkg string) string {
	t.Helper()

	name := filepath.Base(pkg)
	if name == "." {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("resolve working dir: %v", err)
		}
		name = filepath.Base(wd)
	}
	bin := filepath.Join(t.TempDir(), name)
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=0",
		"GOOS=linux",
		"GOARCH="+runtime.GOARCH,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, string(out))
	}

	return bin
}

// RunCLIContainer runs binaryPath with args on networkName and returns its exit code and logs.
func RunCLIContainer(t *testing.T, ctx context.Context, networkName, binaryPath string, args []string) (int, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:      cliContainerImage,
		Entrypoint: []string{cliContainerPath},
		Cmd:        args,
		Networks:   []string{networkName},
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      binaryPath,
				ContainerFilePath: cliContainerPath,
				FileMode:          0o755,
			},
		},
		WaitingFor: wait.ForExit().WithExitTimeout(cliExitTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start cli container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	logsReader, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}
	defer logsReader.Close()

	logs, err := io.ReadAll(logsReader)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		t.Fatalf("read cli state: %v", err)
	}

	return state.ExitCode, string(logs)
}
