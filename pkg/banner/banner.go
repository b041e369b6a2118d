package banner

import (
	"fmt"

	"chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner with the effective configuration so
// operators can verify what the binary is actually running with.
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	fmt.Printf("Document:  %s\n", cfg.Storage.MessagesPath)
	fmt.Printf("Index:     %s\n", cfg.Storage.IndexPath)
	fmt.Printf("Users:     %s\n", cfg.Storage.UsersPath)
	fmt.Printf("Model:     %s @ %s\n", cfg.LLM.Model, cfg.LLM.BaseURL)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config:    %s\n", source)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("WS   /ws/chat            - chat relay (token in first frame or ?token=)")
	fmt.Println("POST /v1/auth/register   - create account (JSON: email, password)")
	fmt.Println("POST /v1/auth/login      - obtain a bearer token")
	fmt.Println("GET  /v1/conversations   - sidebar history (Authorization: Bearer)")
	fmt.Println("GET  /healthz /readyz /metrics")

	fmt.Println("\n== Production? ================================================")
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured (terminate TLS upstream or set server.tls)")
	}
	if cfg.Retention.Enabled {
		fmt.Printf("- Retention: enabled (cron=%s dry_run=%v)\n", cfg.Retention.Cron, cfg.Retention.DryRun)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}
