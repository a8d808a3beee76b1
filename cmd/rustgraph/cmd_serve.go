// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/rustgraph/services/trace"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr        string
		noSnapshots bool
		accessLog   bool
		rateLimit   float64
		rateBurst   int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the code graph HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gin.SetMode(gin.ReleaseMode)

			svcCfg := trace.DefaultServiceConfig()
			svcCfg.Config = a.cfg
			svcCfg.Logger = a.logger

			var svc *trace.Service
			if noSnapshots {
				svc = trace.NewService(svcCfg, nil)
			} else {
				mgr, closeDB, err := a.openSnapshots()
				if err != nil {
					return err
				}
				defer closeDB()
				svc = trace.NewService(svcCfg, mgr)
			}

			router := trace.NewRouter(trace.NewHandlers(svc), trace.RouterOptions{
				AccessLog: accessLog,
				RateLimit: rateLimit,
				RateBurst: rateBurst,
			})
			return trace.ListenAndServe(cmd.Context(), addr, router, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().BoolVar(&noSnapshots, "no-snapshots", false, "Run without a snapshot store")
	cmd.Flags().BoolVar(&accessLog, "access-log", false, "Log every request")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Maximum API requests per second (0 = unlimited)")
	cmd.Flags().IntVar(&rateBurst, "rate-burst", 20, "Requests allowed above the rate in a burst")
	return cmd
}
