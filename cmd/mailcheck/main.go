/**
 * @description
 * Tool to verify SMTP settings by sending one reminder email.
 * Without a user id it renders a sample subscription. With a Clerk user id it
 * renders the reminder for that user's soonest-expiring active subscription.
 *
 * Usage:
 *   go run ./cmd/mailcheck <recipient-email> [clerk-user-id]
 *
 * Example:
 *   go run ./cmd/mailcheck me@example.com user_2abc
 *
 * Environment: SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_SENDER,
 * APP_BASE_URL, BUSINESS_TIMEZONE and, with a user id, DATABASE_URL.
 */
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/subtrack/subscription-service/internal/app"
	"github.com/subtrack/subscription-service/internal/domain"
	"github.com/subtrack/subscription-service/internal/store"
	"github.com/subtrack/subscription-service/pkg/mailer"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Println("Usage: go run ./cmd/mailcheck <recipient-email> [clerk-user-id]")
		fmt.Println("Example: go run ./cmd/mailcheck me@example.com user_2abc")
		os.Exit(1)
	}
	recipient := strings.TrimSpace(os.Args[1])

	_ = godotenv.Load()

	host := os.Getenv("SMTP_HOST")
	if host == "" {
		log.Fatal("SMTP_HOST environment variable is required")
	}
	baseURL := os.Getenv("APP_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	loc := app.LoadBusinessLocation(envOr("BUSINESS_TIMEZONE", "Asia/Karachi"))
	today := domain.Today(time.Now(), loc)

	sub := sampleSubscription(today)
	if len(os.Args) == 3 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		found, err := soonestSubscription(ctx, os.Args[2], today)
		cancel()
		if err != nil {
			log.Fatalf("Failed to load subscription: %v", err)
		}
		sub = *found
	}

	days := domain.DaysUntilExpiry(sub, today)
	email, err := app.RenderReminderEmail(sub, days, baseURL)
	if err != nil {
		log.Fatalf("Failed to render reminder email: %v", err)
	}

	fmt.Printf("Reminder email:\n")
	fmt.Printf("  SMTP: %s:%s\n", host, envOr("SMTP_PORT", "587"))
	fmt.Printf("  To: %s\n", recipient)
	fmt.Printf("  Subject: %s\n", email.Subject)
	fmt.Printf("  Subscription: %s (expires %s)\n", sub.ServiceName, sub.ExpiryDate)

	m := mailer.NewSMTPMailer(mailer.Config{
		Host:     host,
		Port:     os.Getenv("SMTP_PORT"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		Sender:   os.Getenv("SMTP_SENDER"),
	})

	fmt.Printf("\nSend this email now? (yes/no): ")
	confirmed, err := sendAfterConfirmation(os.Stdin, sendTimeout, func(ctx context.Context) error {
		return m.SendEmail(ctx, recipient, email.Subject, email.HTMLBody)
	})
	if err != nil {
		log.Fatalf("Failed to send email: %v", err)
	}
	if !confirmed {
		fmt.Println("Cancelled.")
		os.Exit(0)
	}

	fmt.Printf("Sent reminder for %s to %s\n", sub.ServiceName, recipient)
}

const sendTimeout = 15 * time.Second

// sendAfterConfirmation waits for "yes" on in and only then starts the send
// deadline, so time spent at the prompt never counts against it.
func sendAfterConfirmation(in io.Reader, timeout time.Duration, send func(ctx context.Context) error) (bool, error) {
	var confirmation string
	fmt.Fscanln(in, &confirmation)
	if strings.TrimSpace(confirmation) != "yes" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return true, send(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sampleSubscription(today domain.Date) domain.Subscription {
	vendor := "Namecheap"
	return domain.Subscription{
		ServiceName:       "example.com",
		Vendor:            &vendor,
		PurchaseDate:      today.AddDays(-358),
		ExpiryDate:        today.AddDays(7),
		PurchaseAmountPKR: decimal.NewFromInt(3500),
		IsActive:          true,
	}
}

// soonestSubscription picks the active subscription of the user that expires
// next, not counting ones already expired.
func soonestSubscription(ctx context.Context, clerkUserID string, today domain.Date) (*domain.Subscription, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required with a user id")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	repo := store.NewPostgresRepository(pool)
	userID, err := repo.FindUserIDByClerkUserID(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}
	subs, err := repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	var best *domain.Subscription
	for i := range subs {
		sub := subs[i]
		if !sub.IsActive || domain.DaysUntilExpiry(sub, today) < 0 {
			continue
		}
		if best == nil || sub.ExpiryDate.Before(best.ExpiryDate.Time) {
			best = &sub
		}
	}
	if best == nil {
		return nil, fmt.Errorf("user %s has no active subscription", clerkUserID)
	}
	return best, nil
}
