package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
)

const (
	stockServiceName  = "stock.v1.StockService"
	deductStockMethod = "/" + stockServiceName + "/DeductStock"
	getItemMethod     = "/" + stockServiceName + "/GetItem"
)

type DeductStockRequest struct {
	ItemCode       string `json:"itemCode" validate:"required,max=50,itemcode"`
	Quantity       int64  `json:"quantity" validate:"required,min=1,max=999999"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=100,idemkey"`
}

type DeductStockResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	CurrentBalance int64  `json:"currentBalance"`
}

type GetItemRequest struct {
	Code string `json:"code" validate:"required,max=50,itemcode"`
}

type GetItemResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Balance     int64  `json:"balance"`
	Version     int64  `json:"version"`
}

// StockServiceServer is the server API for stock.v1.StockService.
type StockServiceServer interface {
	DeductStock(context.Context, *DeductStockRequest) (*DeductStockResponse, error)
	GetItem(context.Context, *GetItemRequest) (*GetItemResponse, error)
}

type GRPCHandler struct {
	items      ItemManager
	deductions Deductor
	logger     *zap.Logger
}

var _ StockServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(items ItemManager, deductions Deductor, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{items: items, deductions: deductions, logger: logging.OrNop(logger)}
}

func RegisterStockServiceServer(s grpc.ServiceRegistrar, srv StockServiceServer) {
	s.RegisterService(&StockServiceDesc, srv)
}

// DeductStock reports business failures in the response; only invalid
// input and fatal faults become gRPC errors.
func (h *GRPCHandler) DeductStock(ctx context.Context, req *DeductStockRequest) (*DeductStockResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := h.deductions.Deduct(ctx, domain.DeductRequest{
		ItemCode:       req.ItemCode,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("deduction failed",
			zap.String("code", req.ItemCode),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		return nil, status.Error(codes.Internal, msgInternalError)
	}

	return &DeductStockResponse{
		Success:        result.Success,
		Message:        result.Message,
		CurrentBalance: result.CurrentBalance,
	}, nil
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *GetItemRequest) (*GetItemResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := h.items.GetByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			return nil, status.Error(codes.NotFound, domain.MessageItemNotFound)
		}
		h.logger.Error("get item failed", zap.String("code", req.Code), zap.Error(err))
		return nil, status.Error(codes.Internal, msgInternalError)
	}

	return &GetItemResponse{
		ID:          item.ID,
		Code:        item.Code,
		Description: item.Description,
		Balance:     item.Balance,
		Version:     int64(item.Version),
	}, nil
}

// UnaryLoggingInterceptor logs every call with its status code and latency.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

var StockServiceDesc = grpc.ServiceDesc{
	ServiceName: stockServiceName,
	HandlerType: (*StockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DeductStock", Handler: deductStockHandler},
		{MethodName: "GetItem", Handler: getItemHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stock/v1/stock.proto",
}

func deductStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeductStockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StockServiceServer).DeductStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deductStockMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StockServiceServer).DeductStock(ctx, req.(*DeductStockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getItemHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetItemRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StockServiceServer).GetItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getItemMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StockServiceServer).GetItem(ctx, req.(*GetItemRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StockClient calls stock.v1.StockService with the JSON codec.
type StockClient struct {
	cc grpc.ClientConnInterface
}

func NewStockClient(cc grpc.ClientConnInterface) *StockClient {
	return &StockClient{cc: cc}
}

func (c *StockClient) DeductStock(ctx context.Context, in *DeductStockRequest, opts ...grpc.CallOption) (*DeductStockResponse, error) {
	out := new(DeductStockResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, deductStockMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockClient) GetItem(ctx context.Context, in *GetItemRequest, opts ...grpc.CallOption) (*GetItemResponse, error) {
	out := new(GetItemResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, getItemMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
