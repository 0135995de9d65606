// Package api serves the REST routes for weeks and tasks.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"planner-api/domain"
)

const (
	maxBodyBytes   = 1 << 20
	healthzTimeout = 2 * time.Second
	uploadMessage  = "File uploaded and saved to the files folder."
)

// WeekService performs week reads and writes.
type WeekService interface {
	List(ctx context.Context) ([]domain.Week, error)
	Create(ctx context.Context, in domain.WeekInput) (domain.Week, error)
	Update(ctx context.Context, id string, in domain.WeekInput) (*domain.Week, error)
	Delete(ctx context.Context, id string) (*domain.Week, error)
}

// TaskService performs task reads and writes.
type TaskService interface {
	List(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	UpdateMany(ctx context.Context, items []domain.TaskPatchItem) ([]domain.Task, error)
	Delete(ctx context.Context, id string) (*domain.Task, error)
}

// Pinger reports whether the entity store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the REST routes.
type Options struct {
	// UploadDir receives files posted to /tasks/upload.
	UploadDir string
}

type errorResponse struct {
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// Register wires up all REST routes on the provided Echo instance.
func Register(e *echo.Echo, weeks WeekService, tasks TaskService, store Pinger, opts Options) {
	e.GET("/weeks", getWeeks(weeks))
	e.POST("/weeks", createWeek(weeks))
	e.PUT("/weeks/:id", updateWeek(weeks))
	e.DELETE("/weeks/:id", deleteWeek(weeks))

	e.GET("/tasks", getTasks(tasks))
	e.POST("/tasks", createTask(tasks))
	e.PUT("/tasks", updateTasks(tasks))
	e.PUT("/tasks/:id", updateTask(tasks))
	e.DELETE("/tasks/:id", deleteTask(tasks))
	e.POST("/tasks/upload", upload(opts.UploadDir))

	e.GET("/healthz", healthz(store))
}

func healthz(store Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if store == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthzTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodyBytes)
	return sonic.ConfigStd.NewDecoder(lr).Decode(dst)
}

// fail maps service errors to HTTP responses.
func fail(c echo.Context, err error) error {
	m := metricsFrom(c)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		m.SetErrorStage("validation")
		return c.JSON(http.StatusBadRequest, errorResponse{Message: verr.Error(), Fields: verr.Fields})
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		m.SetErrorStage("conflict")
		return c.JSON(http.StatusConflict, errorResponse{Message: domain.ErrConcurrencyConflict.Error()})
	}
	m.SetErrorStage("storage")
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Message: "internal server error"})
}

func invalidBody(c echo.Context) error {
	metricsFrom(c).SetErrorStage("decode")
	return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
}

func notFound(c echo.Context, entity string) error {
	metricsFrom(c).SetErrorStage("not_found")
	return c.JSON(http.StatusNotFound, errorResponse{Message: entity + " " + domain.ErrNotFound.Error()})
}

// timed runs fn and records its duration as store time.
func timed[T any](c echo.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(c.Request().Context())
	metricsFrom(c).ObserveStore(time.Since(start))
	return v, err
}

func getWeeks(svc WeekService) echo.HandlerFunc {
	return func(c echo.Context) error {
		weeks, err := timed(c, svc.List)
		if err != nil {
			return fail(c, err)
		}
		metricsFrom(c).SetItems(len(weeks))
		return c.JSON(http.StatusOK, weeks)
	}
}

func createWeek(svc WeekService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.WeekInput
		if err := decodeBody(c, &in); err != nil {
			return invalidBody(c)
		}
		w, err := timed(c, func(ctx context.Context) (domain.Week, error) { return svc.Create(ctx, in) })
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, w)
	}
}

func updateWeek(svc WeekService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.WeekInput
		if err := decodeBody(c, &in); err != nil {
			return invalidBody(c)
		}
		id := c.Param("id")
		w, err := timed(c, func(ctx context.Context) (*domain.Week, error) { return svc.Update(ctx, id, in) })
		if err != nil {
			return fail(c, err)
		}
		if w == nil {
			return notFound(c, "week")
		}
		return c.JSON(http.StatusOK, w)
	}
}

func deleteWeek(svc WeekService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		w, err := timed(c, func(ctx context.Context) (*domain.Week, error) { return svc.Delete(ctx, id) })
		if err != nil {
			return fail(c, err)
		}
		if w == nil {
			return notFound(c, "week")
		}
		return c.JSON(http.StatusOK, w)
	}
}

func getTasks(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := timed(c, svc.List)
		if err != nil {
			return fail(c, err)
		}
		metricsFrom(c).SetItems(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	}
}

func createTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.TaskInput
		if err := decodeBody(c, &in); err != nil {
			return invalidBody(c)
		}
		t, err := timed(c, func(ctx context.Context) (domain.Task, error) { return svc.Create(ctx, in) })
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func updateTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return invalidBody(c)
		}
		id := c.Param("id")
		t, err := timed(c, func(ctx context.Context) (*domain.Task, error) { return svc.Update(ctx, id, patch) })
		if err != nil {
			return fail(c, err)
		}
		if t == nil {
			return notFound(c, "task")
		}
		return c.JSON(http.StatusOK, t)
	}
}

func updateTasks(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		items := make([]domain.TaskPatchItem, 0, 8)
		if err := decodeBody(c, &items); err != nil {
			return invalidBody(c)
		}
		tasks, err := timed(c, func(ctx context.Context) ([]domain.Task, error) { return svc.UpdateMany(ctx, items) })
		if err != nil {
			return fail(c, err)
		}
		metricsFrom(c).SetItems(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	}
}

func deleteTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		t, err := timed(c, func(ctx context.Context) (*domain.Task, error) { return svc.Delete(ctx, id) })
		if err != nil {
			return fail(c, err)
		}
		if t == nil {
			return notFound(c, "task")
		}
		return c.JSON(http.StatusOK, t)
	}
}

// upload stores the multipart "file" field in dir under its base name.
func upload(dir string) echo.HandlerFunc {
	return func(c echo.Context) error {
		fh, err := c.FormFile("file")
		if err != nil {
			metricsFrom(c).SetErrorStage("form")
			return c.String(http.StatusBadRequest, "missing file")
		}
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) || name == ".." {
			metricsFrom(c).SetErrorStage("form")
			return c.String(http.StatusBadRequest, "invalid file name")
		}
		src, err := fh.Open()
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to read upload")
		}
		defer src.Close()

		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to store upload")
		}
		dst, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to store upload")
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to store upload")
		}
		if err := dst.Close(); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to store upload")
		}
		return c.String(http.StatusOK, uploadMessage)
	}
}
