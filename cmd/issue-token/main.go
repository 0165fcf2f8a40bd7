package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/service"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	authService := service.NewAuthService(cfg)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Access Token ===")

	// Token type
	fmt.Print("Token type [player/reviewer] (default player): ")
	typeStr, _ := reader.ReadString('\n')
	tokenType := service.TokenTypePlayer
	switch strings.TrimSpace(strings.ToLower(typeStr)) {
	case "", string(service.TokenTypePlayer):
	case string(service.TokenTypeReviewer):
		tokenType = service.TokenTypeReviewer
	default:
		fmt.Println("Error: token type must be player or reviewer")
		return
	}

	// User ID
	fmt.Print("Enter User ID: ")
	idStr, _ := reader.ReadString('\n')
	userID, err := strconv.Atoi(strings.TrimSpace(idStr))
	if err != nil || userID <= 0 {
		fmt.Println("Error: User ID must be a positive number")
		return
	}

	var permissions []string
	if tokenType == service.TokenTypeReviewer {
		permissions = []string{string(model.PermissionSessionsReview)}
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	token, err := authService.IssueToken(tokenType, userID, permissions, time.Now())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nToken (valid %s):\n%s\n", cfg.JWTExpiry, token)
}
