//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/service"
)

// The server under test must run with ENABLE_SIGN_ENDPOINT=true and share
// JWT_SECRET with this process.
const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	e2ePlayerID    = 990001
	e2eReviewerID  = 990002
)

var (
	baseURL       string
	dbURL         string
	playerToken   string
	reviewerToken string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	cfg := config.Load()
	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	dbURL = cfg.DatabaseURL

	// 1. Clean previous runs (only when the server uses Postgres)
	if cfg.StoreBackend == config.StoreBackendPostgres {
		if err := cleanup(); err != nil {
			fmt.Printf("Setup failed: %v\n", err)
			os.Exit(1)
		}
	}

	// 2. Issue tokens with the shared secret
	auth := service.NewAuthService(cfg)
	var err error
	playerToken, err = auth.IssueToken(service.TokenTypePlayer, e2ePlayerID, nil, time.Now())
	if err != nil {
		fmt.Printf("Issue player token: %v\n", err)
		os.Exit(1)
	}
	reviewerToken, err = auth.IssueToken(service.TokenTypeReviewer, e2eReviewerID,
		[]string{string(model.PermissionSessionsReview)}, time.Now())
	if err != nil {
		fmt.Printf("Issue reviewer token: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func cleanup() error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `DELETE FROM game_sessions WHERE user_id = $1`, e2ePlayerID); err != nil {
		return fmt.Errorf("cleanup game_sessions: %w", err)
	}
	return nil
}

var questions = []model.QuestionSnapshot{
	{QuestionID: "q1", QuestionText: "2 + 2", CorrectAnswer: "4", Choices: []string{"3", "4", "5"}},
	{QuestionID: "q2", QuestionText: "Capital of France", CorrectAnswer: "Paris", Choices: []string{"Paris", "Rome"}},
	{QuestionID: "q3", QuestionText: "3 * 3", CorrectAnswer: "9", Choices: []string{"6", "9"}},
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func startSession(t *testing.T) string {
	t.Helper()
	resp, err := post("/game/sessions/start", model.StartSessionRequest{
		GameType:  "e2e-quiz",
		LevelID:   "1",
		Questions: questions,
	}, playerToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", resp.StatusCode, readBody(resp))
	}

	var body envelope
	decodeJSON(t, resp, &body)
	var started model.StartSessionResponse
	if err := json.Unmarshal(body.Data, &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	return started.SessionID
}

func sign(t *testing.T, sessionID string, answers []model.AnswerSubmission) string {
	t.Helper()
	resp, err := post("/game/sessions/sign", model.SignRequest{SessionID: sessionID, Answers: answers}, playerToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign status %d: %s (is ENABLE_SIGN_ENDPOINT set?)", resp.StatusCode, readBody(resp))
	}

	var body envelope
	decodeJSON(t, resp, &body)
	var signed struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(body.Data, &signed); err != nil {
		t.Fatalf("decode sign: %v", err)
	}
	return signed.Signature
}

func submit(t *testing.T, req model.SubmitSessionRequest) (int, envelope) {
	t.Helper()
	resp, err := post("/game/sessions/submit", req, playerToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body envelope
	decodeJSON(t, resp, &body)
	return resp.StatusCode, body
}

func TestE2EFlow(t *testing.T) {
	answers := []model.AnswerSubmission{
		{QuestionID: "q1", Answer: "4", TimeToAnswerMs: 2100},
		{QuestionID: "q2", Answer: "Paris", TimeToAnswerMs: 3400},
		{QuestionID: "q3", Answer: "6", TimeToAnswerMs: 1800},
	}

	t.Run("HonestSubmission", func(t *testing.T) {
		sid := startSession(t)
		status, body := submit(t, model.SubmitSessionRequest{
			SessionID:   sid,
			Answers:     answers,
			ClientScore: 20,
			Signature:   sign(t, sid, answers),
		})
		if status != http.StatusOK {
			t.Fatalf("submit status %d: %+v", status, body.Error)
		}

		var result model.SubmitResult
		if err := json.Unmarshal(body.Data, &result); err != nil {
			t.Fatalf("decode submit: %v", err)
		}
		if result.VerifiedScore != 20 || result.FlaggedSuspicious {
			t.Errorf("unexpected result: %+v", result)
		}

		// Replay is refused.
		status, body = submit(t, model.SubmitSessionRequest{
			SessionID:   sid,
			Answers:     answers,
			ClientScore: 20,
			Signature:   sign(t, sid, answers),
		})
		if status != http.StatusConflict || body.Error == nil || body.Error.Code != "SESSION_ALREADY_SUBMITTED" {
			t.Errorf("replay: status %d, error %+v", status, body.Error)
		}
	})

	t.Run("TamperedAnswers", func(t *testing.T) {
		sid := startSession(t)
		sig := sign(t, sid, answers)

		tampered := append([]model.AnswerSubmission(nil), answers...)
		tampered[2].Answer = "9"
		status, body := submit(t, model.SubmitSessionRequest{
			SessionID:   sid,
			Answers:     tampered,
			ClientScore: 30,
			Signature:   sig,
		})
		if status != http.StatusForbidden || body.Error == nil || body.Error.Code != "INVALID_SIGNATURE" {
			t.Fatalf("tampered: status %d, error %+v", status, body.Error)
		}
	})

	t.Run("InflatedScore", func(t *testing.T) {
		sid := startSession(t)
		status, body := submit(t, model.SubmitSessionRequest{
			SessionID:   sid,
			Answers:     answers,
			ClientScore: 30,
			Signature:   sign(t, sid, answers),
		})
		if status != http.StatusUnprocessableEntity || body.Error == nil || body.Error.Code != "SCORE_MISMATCH" {
			t.Fatalf("inflated: status %d, error %+v", status, body.Error)
		}
	})

	t.Run("BotTiming", func(t *testing.T) {
		fast := []model.AnswerSubmission{
			{QuestionID: "q1", Answer: "4", TimeToAnswerMs: 120},
			{QuestionID: "q2", Answer: "Paris", TimeToAnswerMs: 140},
			{QuestionID: "q3", Answer: "9", TimeToAnswerMs: 2000},
		}
		sid := startSession(t)
		status, body := submit(t, model.SubmitSessionRequest{
			SessionID:   sid,
			Answers:     fast,
			ClientScore: 30,
			Signature:   sign(t, sid, fast),
		})
		if status != http.StatusOK {
			t.Fatalf("bot submit status %d: %+v", status, body.Error)
		}
		var result model.SubmitResult
		if err := json.Unmarshal(body.Data, &result); err != nil {
			t.Fatalf("decode submit: %v", err)
		}
		if !result.FlaggedSuspicious || result.Warning == "" {
			t.Errorf("expected flagged result, got %+v", result)
		}
	})

	t.Run("ReviewerSeesFlags", func(t *testing.T) {
		resp, err := get("/review/users/"+fmt.Sprint(e2ePlayerID)+"/suspicious-count", reviewerToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("count status %d: %s", resp.StatusCode, readBody(resp))
		}

		var body envelope
		decodeJSON(t, resp, &body)
		var count struct {
			SuspiciousCount int64 `json:"suspicious_count"`
		}
		if err := json.Unmarshal(body.Data, &count); err != nil {
			t.Fatalf("decode count: %v", err)
		}
		// Tampered, inflated and bot sessions are all flagged.
		if count.SuspiciousCount < 3 {
			t.Errorf("expected at least 3 flagged sessions, got %d", count.SuspiciousCount)
		}
	})

	t.Run("BestScore", func(t *testing.T) {
		resp, err := get("/game/best-score?game_type=e2e-quiz", playerToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body envelope
		decodeJSON(t, resp, &body)
		var best struct {
			BestScore *int `json:"best_score"`
		}
		if err := json.Unmarshal(body.Data, &best); err != nil {
			t.Fatalf("decode best score: %v", err)
		}
		if best.BestScore == nil || *best.BestScore != 30 {
			t.Errorf("expected best score 30, got %v", best.BestScore)
		}
	})
}

// Helpers

func post(path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest("POST", baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func get(path string, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
