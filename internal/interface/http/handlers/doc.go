// Package handlers contains HTTP handler interfaces, health checks and middleware.
//
// # Health Checks
//
// Readiness is a set of named checks executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker(3 * time.Second)
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("scheduler", handlers.NewRunningCheck("scheduler", sched))
//
// # Webhook Handling
//
// The Telegram bot implements WebhookHandler. The webhook routes are guarded by
// WebhookSecretMiddleware, which compares the X-Telegram-Bot-Api-Secret-Token
// header with the secret registered through setWebhook.
package handlers
