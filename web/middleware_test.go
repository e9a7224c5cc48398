package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deemkeen/stegofed/util"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedServer(t *testing.T, maxBytes int64) *Server {
	t.Helper()
	yaml := "conf:\n  sslDomain: local.example\n"
	if maxBytes != 0 {
		yaml += fmt.Sprintf("  maxBodyBytes: %d\n", maxBytes)
	}
	conf, err := util.ParseConf([]byte(yaml))
	require.NoError(t, err)
	return NewServer(nil, conf, nil)
}

func TestBodyLimit(t *testing.T) {
	assert.EqualValues(t, 1024, limitedServer(t, 1024).bodyLimit())
	assert.EqualValues(t, defaultMaxBodyBytes, limitedServer(t, -1).bodyLimit())

	s := limitedServer(t, 1024)
	s.conf.Conf.MaxBodyBytes = 0
	assert.EqualValues(t, defaultMaxBodyBytes, s.bodyLimit())
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		maxBytes       int64
		bodySize       int
		chunked        bool
		expectedStatus int
	}{
		{name: "under limit", maxBytes: 1024, bodySize: 512, expectedStatus: http.StatusOK},
		{name: "at limit", maxBytes: 1024, bodySize: 1024, expectedStatus: http.StatusOK},
		{name: "over limit by content-length", maxBytes: 1024, bodySize: 2048, expectedStatus: http.StatusRequestEntityTooLarge},
		{name: "over limit while reading", maxBytes: 1024, bodySize: 2048, chunked: true, expectedStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := limitedServer(t, tt.maxBytes)
			router := gin.New()
			router.POST("/test", s.limitBody, func(c *gin.Context) {
				if _, err := c.GetRawData(); err != nil {
					c.Status(http.StatusRequestEntityTooLarge)
					return
				}
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", tt.bodySize)))
			if tt.chunked {
				req.ContentLength = -1
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestLimitBodyStopsTheChain(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := limitedServer(t, 100)
	reached := false
	router := gin.New()
	router.POST("/test", s.limitBody, func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", 200)))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "Request body too large")
	assert.False(t, reached)
}
