package mocks

//go:generate mockgen -destination=./mock_price_source.go -package=mocks github.com/atmx/trading-engine/internal/engine PriceSource
//go:generate mockgen -destination=./mock_order_sink.go -package=mocks github.com/atmx/trading-engine/internal/engine OrderSink
//go:generate mockgen -destination=./mock_withdrawer.go -package=mocks github.com/atmx/trading-engine/internal/payout Withdrawer
