package graph

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const maxRequestBytes = 1 << 20

type errorBody struct {
	Errors []errorMessage `json:"errors"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Errors: []errorMessage{{Message: msg}}})
}

// Handler serves queries and mutations over HTTP. POST reads a JSON body and
// GET reads the query, operationName and variables parameters. Mutations sent
// over GET are answered with 405 and nothing is written.
func Handler(s *Schema) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req Request
		ctx := c.Request().Context()
		switch c.Request().Method {
		case http.MethodGet:
			ctx = withReadOnly(ctx)
			req.Query = c.QueryParam("query")
			req.OperationName = c.QueryParam("operationName")
			if vars := c.QueryParam("variables"); vars != "" {
				if err := sonic.UnmarshalString(vars, &req.Variables); err != nil {
					return badRequest(c, "variables must be a JSON object")
				}
			}
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBytes))
			if err != nil {
				c.Logger().Error(err)
				return badRequest(c, "unable to read request body")
			}
			if err := sonic.Unmarshal(body, &req); err != nil {
				return badRequest(c, "request body must be a JSON object")
			}
		default:
			return c.NoContent(http.StatusMethodNotAllowed)
		}
		if req.Query == "" {
			return badRequest(c, "missing query")
		}
		resp := s.Exec(ctx, req)
		for _, qerr := range resp.Errors {
			if qerr.Extensions["code"] == codeMethodNotAllowed {
				c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
				return c.JSON(http.StatusMethodNotAllowed, resp)
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}
