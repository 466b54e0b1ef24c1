package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/forcedeck/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{ //nolint:gochecknoglobals // test fixture
	"FORCEDECK_CONFIG",
	"FORCEDECK_ENV_FILE",
	"FORCEDECK_CONCURRENCY",
	"FORCEDECK_BATCH_PAUSE_MS",
	"FORCEDECK_TENANT_ID",
	"FORCEDECK_LOG_LEVEL",
	"FORCEDECK_MODIFIED_FROM",
	"AUTH_URL",
	"CLIENT_ID",
	"CLIENT_SECRET",
	"TENANT_ID",
	"FORCEDECKS_URL",
	"PROFILE_URL",
	"DATABASE_URL",
	"CMJ_TABLE_ID",
}

func clearConfigEnvVars() {
	for _, v := range configEnvVars {
		_ = os.Unsetenv(v)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()
		_ = os.Setenv("FORCEDECK_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Concurrency, convey.ShouldEqual, 10)
				convey.So(cfg.BatchPauseMS, convey.ShouldEqual, 2000)
				convey.So(cfg.PipelineNames(), convey.ShouldHaveLength, 4)
			})
		})

		convey.Convey("When loading config with prefixed environment variables", func() {
			_ = os.Setenv("FORCEDECK_CONCURRENCY", "4")
			_ = os.Setenv("FORCEDECK_BATCH_PAUSE_MS", "500")
			_ = os.Setenv("FORCEDECK_LOG_LEVEL", "debug")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Concurrency, convey.ShouldEqual, 4)
				convey.So(cfg.BatchPauseMS, convey.ShouldEqual, 500)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
			})
		})

		convey.Convey("When the legacy credential variables are set", func() {
			_ = os.Setenv("AUTH_URL", "https://auth.example.com/token")
			_ = os.Setenv("CLIENT_ID", "id")
			_ = os.Setenv("CLIENT_SECRET", "secret")
			_ = os.Setenv("TENANT_ID", "legacy-tenant")
			_ = os.Setenv("FORCEDECKS_URL", "https://fd.example.com")
			_ = os.Setenv("PROFILE_URL", "https://profiles.example.com")
			_ = os.Setenv("FORCEDECK_TENANT_ID", "prefixed-tenant")
			_ = os.Setenv("CMJ_TABLE_ID", "analytics.cmj")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they are mapped and the prefixed form wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AuthURL, convey.ShouldEqual, "https://auth.example.com/token")
				convey.So(cfg.ClientSecret, convey.ShouldEqual, "secret")
				convey.So(cfg.TenantID, convey.ShouldEqual, "prefixed-tenant")
				convey.So(cfg.Pipelines["cmj"].Table, convey.ShouldEqual, "analytics.cmj")
				convey.So(cfg.ValidateRemote(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When a .env file carries credentials", func() {
			path := writeFile(t, "test.env", "CLIENT_ID=from-dotenv\nCLIENT_SECRET=dotenv-secret\n")
			_ = os.Setenv("FORCEDECK_ENV_FILE", path)
			_ = os.Setenv("CLIENT_SECRET", "from-env")

			cfg, err := config.Load(ctx)

			convey.Convey("Then existing environment variables win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.ClientID, convey.ShouldEqual, "from-dotenv")
				convey.So(cfg.ClientSecret, convey.ShouldEqual, "from-env")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeFile(t, "config.yaml", `
concurrency: 3
requests_per_second: 2.5
pipelines:
  imtp:
    kind: peak
    test_type: IMTP
    table: imtp_custom
    metric: PEAK_VERTICAL_FORCE_Trial_N
  sj:
    kind: composite
    test_type: SJ
    table: sj_results
    score_column: sj_score
    weights:
      PEAK_CONCENTRIC_FORCE_Trial_N: 1
`)
			_ = os.Setenv("FORCEDECK_CONFIG", path)
			_ = os.Setenv("FORCEDECK_CONCURRENCY", "6")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Concurrency, convey.ShouldEqual, 6)
				convey.So(cfg.RequestsPerSecond, convey.ShouldEqual, 2.5)
			})

			convey.Convey("Then file pipelines replace built-ins of the same name", func() {
				convey.So(cfg.Pipelines["imtp"].Table, convey.ShouldEqual, "imtp_custom")
				convey.So(cfg.Pipelines["imtp"].Columns, convey.ShouldBeEmpty)
				convey.So(cfg.Pipelines["ppu"].Table, convey.ShouldEqual, "ppu_results")
				convey.So(cfg.Pipelines["sj"].Weights, convey.ShouldContainKey, "PEAK_CONCENTRIC_FORCE_Trial_N")
				convey.So(cfg.PipelineNames(), convey.ShouldResemble, []string{"cmj", "hj", "imtp", "ppu", "sj"})
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("FORCEDECK_CONFIG", "/non/existent/file.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a value fails validation", func() {
			_ = os.Setenv("FORCEDECK_CONCURRENCY", "0")

			_, err := config.Load(ctx)

			convey.Convey("Then an invalid config error is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the start date is malformed", func() {
			_ = os.Setenv("FORCEDECK_MODIFIED_FROM", "yesterday")

			_, err := config.Load(ctx)

			convey.Convey("Then an invalid config error is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a file pipeline is incomplete", func() {
			path := writeFile(t, "config.yaml", `
pipelines:
  broken:
    kind: peak
    test_type: X
    table: x
`)
			_ = os.Setenv("FORCEDECK_CONFIG", path)

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestLoadStats(t *testing.T) {
	convey.Convey("Given a statistics file", t, func() {
		convey.Convey("When it is well formed", func() {
			path := writeFile(t, "stats.yaml", "mean:\n  A: 10\nstd:\n  A: 2\n")

			s, err := config.LoadStats(path)

			convey.Convey("Then means and deviations are read", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(s.Mean["A"], convey.ShouldEqual, 10)
				convey.So(s.Z("A", 14), convey.ShouldAlmostEqual, 2.0)
			})
		})

		convey.Convey("When the std section is missing", func() {
			path := writeFile(t, "stats.yaml", "mean:\n  A: 10\n")

			_, err := config.LoadStats(path)

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the file is not YAML", func() {
			path := writeFile(t, "stats.yaml", "mean: [unclosed")

			_, err := config.LoadStats(path)

			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the file is missing", func() {
			_, err := config.LoadStats(filepath.Join(t.TempDir(), "nope.yaml"))

			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}
