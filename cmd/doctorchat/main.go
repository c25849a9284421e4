package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Ahrakshith/healthcare-app/internal/domain"
	"github.com/Ahrakshith/healthcare-app/internal/integrations/backend"
	"github.com/Ahrakshith/healthcare-app/internal/integrations/paramstore"
	"github.com/Ahrakshith/healthcare-app/internal/integrations/speech"
	"github.com/Ahrakshith/healthcare-app/internal/realtime"
	"github.com/Ahrakshith/healthcare-app/internal/repository"
	"github.com/Ahrakshith/healthcare-app/internal/session"
)

// channelAdapter narrows *realtime.Channel to the session's Channel
// interface.
type channelAdapter struct {
	ch *realtime.Channel
}

func (a channelAdapter) Join(ctx context.Context, room domain.Room) (session.Subscription, error) {
	return a.ch.Join(ctx, room)
}

func (a channelAdapter) Publish(ctx context.Context, room domain.Room, msg domain.Message) error {
	return a.ch.Publish(ctx, room, msg)
}

func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	// ---- Configuration (read only here) ----
	directoryTable := mustEnv("DIRECTORY_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	backendURL := mustEnv("BACKEND_URL")
	speechURL := mustEnv("SPEECH_URL")
	redisAddr := mustEnv("REDIS_ADDR")
	doctorUID := mustEnv("DOCTOR_UID")
	redisDB := envInt("REDIS_DB", 0)

	// ---- AWS SDK config ----
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	directory, err := repository.New(awsdynamodb.NewFromConfig(cfg), directoryTable)
	if err != nil {
		slog.Error("failed to create directory client", "err", err)
		os.Exit(1)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	speechClient, err := speech.NewClient(ssmClient, paramPrefix, speech.WithBaseURL(speechURL))
	if err != nil {
		slog.Error("failed to create speech client", "err", err)
		os.Exit(1)
	}
	backendClient, err := backend.NewClient(backendURL, doctorUID)
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		os.Exit(1)
	}
	channel, err := realtime.NewChannel(redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisDB}), slog.Default())
	if err != nil {
		slog.Error("failed to create realtime channel", "err", err)
		os.Exit(1)
	}

	doctor, err := directory.DoctorByUID(ctx, doctorUID)
	if err != nil {
		slog.Error("failed to resolve doctor profile", "uid", doctorUID, "err", err)
		os.Exit(1)
	}

	hooks := session.Hooks{
		TimelineChanged: func() { fmt.Println("-- timeline updated --") },
		PromptPending: func(patientID string) {
			fmt.Printf("-- engagement prompt for %s: chat now? (/accept or /decline) --\n", patientID)
		},
		AlertReceived: func(a domain.Alert) {
			fmt.Printf("!! missed-dose alert [%s]: %s\n", a.ID, a.Message)
		},
		Error: func(err error) { slog.Warn("session error", "err", err) },
	}

	sess, err := session.New(backendClient, channelAdapter{channel}, speechClient, directory, doctor,
		session.WithHooks(hooks), session.WithProber(backendClient))
	if err != nil {
		slog.Error("failed to create session", "err", err)
		os.Exit(1)
	}
	defer func() { _ = sess.Close() }()

	roster, err := sess.LoadRoster(ctx)
	if err != nil {
		slog.Error("failed to load roster", "err", err)
		os.Exit(1)
	}
	if len(roster) == 0 {
		fmt.Println("no patients assigned")
		return
	}
	for i, a := range roster {
		fmt.Printf("%d) %s (assigned %s)\n", i, a.PatientName, a.AssignedAt.Format("2006-01-02"))
	}
	if err := sess.Open(ctx, roster[0]); err != nil {
		slog.Error("failed to open conversation", "err", err)
		os.Exit(1)
	}
	fmt.Printf("chatting with %s\n", roster[0].PatientName)

	runLoop(ctx, sess)
}

func runLoop(ctx context.Context, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/accept":
			report(sess.ResolvePrompt(ctx, true))
		case line == "/decline":
			report(sess.ResolvePrompt(ctx, false))
		case line == "/timeline":
			for _, m := range sess.Timeline() {
				printMessage(m)
			}
		case strings.HasPrefix(line, "/switch "):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "/switch "))
			roster := sess.Roster()
			if err != nil || n < 0 || n >= len(roster) {
				fmt.Println("usage: /switch <roster index>")
				continue
			}
			report(sess.Open(ctx, roster[n]))
		case strings.HasPrefix(line, "/diagnosis "):
			_, err := sess.SendDiagnosis(ctx, strings.TrimPrefix(line, "/diagnosis "))
			report(err)
		case strings.HasPrefix(line, "/prescribe "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/prescribe "), "|", 4)
			if len(parts) != 4 {
				fmt.Println("usage: /prescribe medicine|dosage|frequency|duration")
				continue
			}
			_, err := sess.SendPrescription(ctx, domain.Prescription{
				Medicine:  strings.TrimSpace(parts[0]),
				Dosage:    strings.TrimSpace(parts[1]),
				Frequency: strings.TrimSpace(parts[2]),
				Duration:  strings.TrimSpace(parts[3]),
			})
			report(err)
		case strings.HasPrefix(line, "/dismiss "):
			if !sess.DismissAlert(strings.TrimPrefix(line, "/dismiss ")) {
				fmt.Println("no such alert")
			}
		default:
			_, err := sess.SendText(ctx, line)
			report(err)
		}
	}
}

func printMessage(m domain.Message) {
	switch {
	case m.Diagnosis != "":
		fmt.Printf("[%s] %s diagnosis: %s\n", m.Timestamp, m.Sender, m.Diagnosis)
	case m.Prescription != nil:
		fmt.Printf("[%s] %s prescription: %s\n", m.Timestamp, m.Sender, m.Prescription.Summary())
	default:
		fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.Sender, m.Text)
	}
}

func report(err error) {
	if err != nil {
		fmt.Println("error:", err)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
