package crawl

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dragnet/pkg/api/common"
	"dragnet/pkg/api/trawler"
	"dragnet/pkg/logging"
)

// API exposes the crawl pipeline over HTTP. The same endpoint serves both
// the selector's dispatch calls and operator seeding.
type API struct {
	service *Service
	logger  logging.Logger
}

func NewAPI(service *Service, logger logging.Logger) (*API, error) {
	if service == nil {
		return nil, errors.New("crawl service is required")
	}
	return &API{service: service, logger: logger}, nil
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.POST("/v1/crawl", a.handleCrawl)
}

func (a *API) handleCrawl(c *gin.Context) {
	var req trawler.CrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := a.service.Crawl(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, ErrBadURL) {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
			return
		}
		a.logger.WithError(err).WithField("url", req.URL).Error("Crawl failed")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "crawl failed"})
		return
	}

	status := http.StatusAccepted
	if result.Status == trawler.StatusSkipped {
		status = http.StatusOK
	}
	c.JSON(status, trawler.CrawlResponse{Status: result.Status, Reason: result.Reason})
}
