package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/profiler/internal/adapters/repository"
	service "github.com/okian/profiler/internal/app"
	"github.com/okian/profiler/pkg/logger"
)

func run(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then it exposes every subcommand", func() {
			names := map[string]bool{}
			for _, c := range root.Commands() {
				names[c.Name()] = true
			}
			convey.So(names["serve"], convey.ShouldBeTrue)
			convey.So(names["migrate"], convey.ShouldBeTrue)
			convey.So(names["version"], convey.ShouldBeTrue)
			convey.So(names["loadgen"], convey.ShouldBeTrue)
		})

		convey.Convey("When running version", func() {
			out, err := run("version")

			convey.Convey("Then it prints the program name", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldStartWith, "profiler ")
			})
		})
	})
}

func TestMigrateCommand(t *testing.T) {
	convey.Convey("Given a fresh sqlite database", t, func() {
		dsn := filepath.Join(t.TempDir(), "cli.db")
		target := []string{"--driver", "sqlite", "--dsn", dsn}
		migrate := func(sub ...string) (string, error) {
			return run(append(append([]string{"migrate"}, target...), sub...)...)
		}

		convey.Convey("When reading the version before migrating", func() {
			out, err := migrate("version")

			convey.Convey("Then it reports version 0", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "version: 0, dirty: false")
			})
		})

		convey.Convey("When applying all migrations", func() {
			out, err := migrate("up")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "applied successfully")

			convey.Convey("Then the schema version is positive", func() {
				g, err := repository.NewMigrator(repository.DialectSQLite, dsn)
				convey.So(err, convey.ShouldBeNil)
				defer g.Close()
				v, dirty, err := g.Version()
				convey.So(err, convey.ShouldBeNil)
				convey.So(dirty, convey.ShouldBeFalse)
				convey.So(v, convey.ShouldBeGreaterThan, 0)
			})

			convey.Convey("And running up again is a no-op", func() {
				_, err := migrate("up")
				convey.So(err, convey.ShouldBeNil)
			})

			convey.Convey("And reverting every migration returns to version 0", func() {
				_, err := migrate("down")
				convey.So(err, convey.ShouldBeNil)
				out, err := migrate("version")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "version: 0")
			})
		})

		convey.Convey("When stepping forward one migration", func() {
			out, err := migrate("steps", "1")

			convey.Convey("Then version 1 is recorded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "applied 1 migration steps")
				out, err = migrate("version")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "version: 1,")
			})

			convey.Convey("And a negative step passed after -- reverts it", func() {
				_, err := migrate("steps", "--", "-1")
				convey.So(err, convey.ShouldBeNil)
				out, err := migrate("version")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "version: 0,")
			})
		})

		convey.Convey("When forcing a version", func() {
			out, err := migrate("force", "1")

			convey.Convey("Then the forced version is reported", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "forced to version 1")
			})
		})

		convey.Convey("When the step count is not a number", func() {
			_, err := migrate("steps", "many")

			convey.Convey("Then it fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})

	convey.Convey("Given a non-SQL target", t, func() {
		convey.Convey("When the driver is memory", func() {
			_, err := run("migrate", "--driver", "memory", "--dsn", "unused", "up")

			convey.Convey("Then it refuses to migrate", func() {
				convey.So(errors.Is(err, errMemoryStore), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the driver is unknown", func() {
			_, err := run("migrate", "--driver", "oracle", "--dsn", "unused", "up")

			convey.Convey("Then the dialect is rejected", func() {
				convey.So(errors.Is(err, repository.ErrUnknownDialect), convey.ShouldBeTrue)
			})
		})
	})
}

func TestNewHTTPServer(t *testing.T) {
	convey.Convey("Given an HTTP server built around a service", t, func() {
		_ = logger.Init(logger.WithWriter(io.Discard))
		ctx := context.Background()
		srv := newHTTPServer(ctx, ":0", service.New(), 25)

		convey.Convey("Then the server timeouts are applied", func() {
			convey.So(srv.Addr, convey.ShouldEqual, ":0")
			convey.So(srv.ReadTimeout, convey.ShouldEqual, readTimeout)
			convey.So(srv.WriteTimeout, convey.ShouldEqual, writeTimeout)
			convey.So(srv.IdleTimeout, convey.ShouldEqual, idleTimeout)
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
		})

		for _, path := range []string{"/healthz", "/openapi.yaml", "/api-docs", "/stats"} {
			path := path
			convey.Convey("When requesting "+path, func() {
				w := httptest.NewRecorder()
				srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))

				convey.Convey("Then it is served", func() {
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				})
			})
		}
	})
}
