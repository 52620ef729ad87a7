package main

import (
	"context"
	"log"

	"github.com/iurnickita/paybroker/internal/config"
	"github.com/iurnickita/paybroker/internal/handler"
	"github.com/iurnickita/paybroker/internal/logger"
	"github.com/iurnickita/paybroker/internal/manager"
	"github.com/iurnickita/paybroker/internal/notifier"
	"github.com/iurnickita/paybroker/internal/provider/greengo"
	"github.com/iurnickita/paybroker/internal/provider/nicepay"
	"github.com/iurnickita/paybroker/internal/provider/onlypays"
	"github.com/iurnickita/paybroker/internal/provider/pspware"
	"github.com/iurnickita/paybroker/internal/rates"
	"github.com/iurnickita/paybroker/internal/reconciler"
	"github.com/iurnickita/paybroker/internal/service"
	"github.com/iurnickita/paybroker/internal/store"
	"github.com/iurnickita/paybroker/internal/turnover"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}

	store, err := store.NewStore(cfg.Store, zaplog)
	if err != nil {
		return err
	}

	// порядок записей - приоритет выбора провайдера
	mgr := manager.NewManager([]manager.Entry{
		{
			Name:       onlypays.Name,
			Adapter:    onlypays.New(cfg.Provider, zaplog),
			SellOrders: true,
		},
		{
			Name:    pspware.Name,
			Adapter: pspware.New(cfg.Provider, zaplog),
		},
		{
			Name:      nicepay.Name,
			Adapter:   nicepay.New(cfg.Provider, zaplog),
			MethodMap: nicepay.Methods,
		},
		{
			Name:      greengo.Name,
			Adapter:   greengo.New(cfg.Provider, zaplog),
			MinAmount: 500,
		},
	}, zaplog)

	notifier := notifier.NewLogNotifier(zaplog)
	turnover := turnover.NewTurnover(store)
	reconciler := reconciler.NewReconciler(store, turnover, notifier, zaplog)
	rates := rates.NewRates(cfg.Service.RatesBaseURL, cfg.Service.RatesTimeout)

	service := service.NewService(cfg.Service, store, mgr, reconciler, rates, notifier, zaplog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Run(ctx)

	return handler.Serve(cfg.Handler, service, reconciler, store, zaplog)
}
