package optimistic

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// SetETag writes the version as a weak ETag.
func SetETag(c echo.Context, version int) {
	c.Response().Header().Set("ETag", FormatETag(version))
}

// FormatETag creates a weak ETag from a version.
func FormatETag(version int) string {
	return fmt.Sprintf(`W/"%d"`, version)
}

// ParseETag extracts the version from W/"3", "3" or 3.
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return v, nil
}

// ExpectedVersion resolves the client's expected version from If-Match,
// falling back to the version carried in the request body. Updates without
// either are rejected with 428.
func ExpectedVersion(c echo.Context, bodyVersion *int) (int, error) {
	if ifMatch := c.Request().Header.Get("If-Match"); ifMatch != "" {
		v, err := ParseETag(ifMatch)
		if err != nil {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid If-Match header: "+err.Error())
		}
		if bodyVersion != nil && *bodyVersion != v {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "If-Match and body version disagree")
		}
		return v, nil
	}
	if bodyVersion != nil {
		return *bodyVersion, nil
	}
	return 0, echo.NewHTTPError(http.StatusPreconditionRequired, "If-Match header or version is required")
}
