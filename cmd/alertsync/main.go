// Package main is the entry point for the alertsync service.
//
// @title alertsync API
// @version 1.0
// @description Grafana alert and JSM incident synchronization service.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.
package main

import (
	"os"

	"github.com/kube-rca/alertsync/cmd/alertsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
