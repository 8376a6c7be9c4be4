package http

import (
	"fmt"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/dialect"
	"github.com/rexrelay/rexrelay/internal/infrastructure/config"
	"github.com/rexrelay/rexrelay/internal/relay/transport"
)

// settableKeys lists the admin settings the API accepts. Everything else
// is rejected so typos do not silently create dead keys.
var settableKeys = map[string]bool{
	"externalLocation":              true,
	"authenticationRefreshInterval": true,
	"enableSSLVerify":               true,
	"reloginDelay":                  true,
	"dialect":                       true,
}

// GetSettings returns the admin settings KV store.
func (h *Handlers) GetSettings(c *gin.Context) {
	if key := c.Query("key"); key != "" {
		c.JSON(stdhttp.StatusOK, gin.H{key: h.admin.AppValue(key)})
		return
	}
	c.JSON(stdhttp.StatusOK, h.admin.Values())
}

type settingRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

// SetSetting validates one admin setting, applies it to the live backend
// wiring, and stores it. An invalid value is rejected before anything
// changes.
func (h *Handlers) SetSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if !settableKeys[req.Key] {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "unknown setting " + req.Key})
		return
	}
	if err := h.applySetting(req.Key, req.Value); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.admin.SetAppValue(req.Key, req.Value)
	h.log.Info("admin setting applied",
		zap.String("key", req.Key),
		zap.String("value", req.Value))
	c.JSON(stdhttp.StatusOK, gin.H{req.Key: req.Value})
}

// applySetting re-resolves the affected backend wiring so the change takes
// effect on the next request, not on the next restart.
func (h *Handlers) applySetting(key, value string) error {
	switch key {
	case "externalLocation":
		cms := config.CMSConfig{ExternalLocation: value, BaseURL: h.cfg.CMS.BaseURL}
		endpoint, err := cms.Endpoint()
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.transport = transport.New(transport.Config{
			Endpoint:  endpoint,
			VerifyTLS: h.verifyTLS,
			Timeout:   h.cfg.CMS.Timeout,
		}, h.metrics, h.log)
		h.mu.Unlock()
	case "dialect":
		d, err := dialect.ForName(value)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.dialect = d
		h.mu.Unlock()
	case "enableSSLVerify":
		verify, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("enableSSLVerify must be a boolean, got %q", value)
		}
		h.mu.Lock()
		h.verifyTLS = verify
		h.transport = transport.New(transport.Config{
			Endpoint:  h.transport.Endpoint(),
			VerifyTLS: verify,
			Timeout:   h.cfg.CMS.Timeout,
		}, h.metrics, h.log)
		h.mu.Unlock()
	case "reloginDelay":
		delay, err := parseInterval(value)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.reloginDelay = delay
		h.mu.Unlock()
	case "authenticationRefreshInterval":
		interval, err := parseInterval(value)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.refresh = interval
		h.mu.Unlock()
	}
	return nil
}

// parseInterval accepts either plain seconds ("600") or a duration
// string ("10m"), matching what admin frontends tend to send.
func parseInterval(value string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("interval must not be negative, got %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	interval, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("interval %q is neither seconds nor a duration", value)
	}
	if interval < 0 {
		return 0, fmt.Errorf("interval must not be negative, got %s", interval)
	}
	return interval, nil
}
