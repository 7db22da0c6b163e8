// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sampleforge/ptmcmc/pkg/config"
	"github.com/sampleforge/ptmcmc/pkg/logging"
	"github.com/sampleforge/ptmcmc/pkg/sampler"
)

// monitor is the in-flight HTTP endpoint for a sampling run: Prometheus
// metrics plus a JSON run summary.
type monitor struct {
	srv *http.Server
	log *logging.Logger
}

// startMonitor serves /metrics and /status on addr in the background.
func startMonitor(addr string, ens *sampler.Ensemble, cfg config.RunConfig, log *logging.Logger) *monitor {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	started := time.Now()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"run_id":         ens.RunID(),
			"target":         targetName,
			"ndim":           cfg.NDim,
			"nchains":        cfg.NChains,
			"niter":          cfg.Niter,
			"ladder":         ens.Ladder(),
			"out_dir":        cfg.OutDir,
			"uptime_seconds": time.Since(started).Seconds(),
		})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("monitor server failed", "addr", addr, "error", err)
		}
	}()
	log.Info("monitor server listening", "addr", addr)
	return &monitor{srv: srv, log: log}
}

// stop shuts the monitor down, giving in-flight scrapes a short grace
// period.
func (m *monitor) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.log.Warn("monitor shutdown error", "error", err)
	}
}
