// Command reader simulates a card reader by publishing attendance events to
// the kiosk's redis queue.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"classkiosk/internal/attendance"
	"classkiosk/internal/config"
	"classkiosk/internal/queue"
	"classkiosk/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	root := &cobra.Command{
		Use:          "reader",
		Short:        "Simulated card reader for the attendance kiosk",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address")
	root.PersistentFlags().StringVar(&cfg.QueueKey, "queue", cfg.QueueKey, "redis list the kiosk consumes")
	root.AddCommand(newTapCmd(&cfg))
	return root
}

func newTapCmd(cfg *config.App) *cobra.Command {
	var (
		student attendance.Student
		fail    bool
		status  string
	)
	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Publish one card tap",
		RunE: func(cmd *cobra.Command, args []string) error {
			evt := buildEvent(student, !fail, status, time.Now())
			msg, err := attendance.NewMessage(evt)
			if err != nil {
				return err
			}
			redisClient := store.NewRedis(cfg.RedisAddr)
			defer redisClient.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey).Publish(ctx, msg); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s for %s\n", evt.Status, student.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&student.ID, "id", "", "student id (required)")
	cmd.Flags().StringVar(&student.Name, "name", "", "student name")
	cmd.Flags().StringVar(&student.Year, "year", "", "school year label")
	cmd.Flags().StringVar(&student.Department, "department", "", "department label")
	cmd.Flags().StringVar(&status, "status", attendance.StatusPresent, "reported status")
	cmd.Flags().BoolVar(&fail, "fail", false, "simulate an unreadable card")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// buildEvent produces the message a reader sends for one tap.
func buildEvent(student attendance.Student, success bool, status string, at time.Time) attendance.Event {
	evt := attendance.Event{
		Type:      attendance.EventTypeAttendance,
		Success:   success,
		Status:    status,
		Timestamp: at.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if success {
		s := student
		evt.Student = &s
		evt.Message = "出席が記録されました"
	} else {
		evt.Message = "カードが認識できませんでした"
	}
	return evt
}
