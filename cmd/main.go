package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mealforge/mealforge-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		a.Log.Info("Shutdown signal received")
		a.Close()
		os.Exit(0)
	}()

	if err := a.Run(); err != nil {
		a.Log.Error("HTTP server exited", "error", err.Error())
		a.Close()
		os.Exit(1)
	}
}
