//go:build !protogen

package main

import (
	"context"
	"log/slog"
	"net/http"
)

func setupDirectoryRoutes(_ context.Context, _ *http.ServeMux, _ *slog.Logger) {}
