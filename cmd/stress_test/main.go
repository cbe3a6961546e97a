package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/migrations"
)

const (
	initialBalance = 10
	totalRequests  = 50
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	dsn := cfg.MySQLDSN
	if err := migrations.Up(dsn); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(totalRequests)

	adapter := storage.NewMySQLAdapter(db)
	items := service.NewItemService(adapter.Items(), nil)

	code := "STRESS-" + uuid.NewString()[:8]
	item, err := items.Create(ctx, code, "stress test item", initialBalance)
	if err != nil {
		log.Fatalf("failed to seed item: %v", err)
	}

	// same retry budget as the server; DEDUCT_MAX_ATTEMPTS >= initialBalance+2
	// makes the outcome deterministic
	executor := service.NewTxExecutor(adapter, service.ExecutorConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}, nil)
	deductions := service.NewDeductionService(adapter.Items(), adapter.Ledger(), executor)

	var successCount, insufficientCount, exhaustedCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			result, err := deductions.Deduct(ctx, domain.DeductRequest{
				ItemCode:       code,
				Quantity:       1,
				IdempotencyKey: fmt.Sprintf("stress-%s-%d", item.ID, n),
			})
			switch {
			case errors.Is(err, domain.ErrRetriesExhausted):
				exhaustedCount.Add(1)
			case err != nil:
				errorCount.Add(1)
				log.Printf("request %d failed: %v", n, err)
			case result.Success:
				successCount.Add(1)
			default:
				insufficientCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	insufficient := insufficientCount.Load()
	exhausted := exhaustedCount.Load()
	failed := errorCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Item Code:        %s\n", code)
	fmt.Printf("Initial Balance:  %d\n", initialBalance)
	fmt.Printf("Max Attempts:     %d\n", cfg.MaxAttempts)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Retries Exhausted:%d\n", exhausted)
	fmt.Printf("Errors:           %d\n", failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	switch {
	case failed > 0 || success > initialBalance:
		fmt.Printf("FAIL: %d succeeded against a balance of %d, %d unexpected errors\n", success, initialBalance, failed)
	case exhausted > 0:
		fmt.Printf("PASS (partial): %d succeeded, %d rejected, %d ran out of attempts; set DEDUCT_MAX_ATTEMPTS >= %d for a full drain\n",
			success, insufficient, exhausted, initialBalance+2)
	default:
		fmt.Printf("PASS: exactly %d deductions succeeded, %d rejected\n", success, insufficient)
	}

	final, err := items.GetByCode(ctx, code)
	if err != nil {
		log.Fatalf("failed to read final balance: %v", err)
	}
	fmt.Printf("Final Balance:    %d\n", final.Balance)

	if final.Balance == initialBalance-int64(success) {
		fmt.Printf("PASS: balance %d matches %d committed deductions\n", final.Balance, success)
	} else {
		fmt.Printf("FAIL: expected balance %d, got %d\n", initialBalance-int64(success), final.Balance)
	}
}
