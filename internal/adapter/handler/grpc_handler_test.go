package handler

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func startGRPC(t *testing.T, items *fakeItems, deductor *fakeDeductor) *StockClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(nil)))
	RegisterStockServiceServer(srv, NewGRPCHandler(items, deductor, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewStockClient(conn)
}

func TestGRPC_DeductStock(t *testing.T) {
	deductor := &fakeDeductor{result: domain.DeductResult{Success: true, Message: domain.MessageDeducted, CurrentBalance: 7}}
	client := startGRPC(t, newFakeItems(), deductor)

	resp, err := client.DeductStock(context.Background(), &DeductStockRequest{ItemCode: "ITEM-1", Quantity: 3, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(7), resp.CurrentBalance)

	require.Len(t, deductor.calls, 1)
	assert.Equal(t, "req-1", deductor.calls[0].IdempotencyKey)
}

func TestGRPC_DeductStockBusinessFailure(t *testing.T) {
	deductor := &fakeDeductor{result: domain.DeductResult{Message: domain.MessageInsufficientStock, CurrentBalance: 2}}
	client := startGRPC(t, newFakeItems(), deductor)

	resp, err := client.DeductStock(context.Background(), &DeductStockRequest{ItemCode: "ITEM-1", Quantity: 3, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.MessageInsufficientStock, resp.Message)
	assert.Equal(t, int64(2), resp.CurrentBalance)
}

func TestGRPC_DeductStockErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      *DeductStockRequest
		deductor *fakeDeductor
		want     codes.Code
	}{
		{
			name:     "invalid quantity",
			req:      &DeductStockRequest{ItemCode: "ITEM-1", Quantity: 0, IdempotencyKey: "k"},
			deductor: &fakeDeductor{},
			want:     codes.InvalidArgument,
		},
		{
			name:     "invalid key",
			req:      &DeductStockRequest{ItemCode: "ITEM-1", Quantity: 1, IdempotencyKey: "a/b"},
			deductor: &fakeDeductor{},
			want:     codes.InvalidArgument,
		},
		{
			name:     "fatal",
			req:      &DeductStockRequest{ItemCode: "ITEM-1", Quantity: 1, IdempotencyKey: "k"},
			deductor: &fakeDeductor{err: errors.New("database gone")},
			want:     codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startGRPC(t, newFakeItems(), tt.deductor)

			_, err := client.DeductStock(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestGRPC_GetItem(t *testing.T) {
	client := startGRPC(t, newFakeItems(testItem("a", "ITEM-1", 9)), &fakeDeductor{})

	resp, err := client.GetItem(context.Background(), &GetItemRequest{Code: "ITEM-1"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.ID)
	assert.Equal(t, int64(9), resp.Balance)

	_, err = client.GetItem(context.Background(), &GetItemRequest{Code: "MISSING"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetItem(context.Background(), &GetItemRequest{Code: ""})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
