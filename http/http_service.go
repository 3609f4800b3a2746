// Package http exposes a small read-only admin API over echo.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Blockstream/cln-lsps/lnclient"
	"github.com/Blockstream/cln-lsps/lsps/lsps1"
	"github.com/Blockstream/cln-lsps/lsps/persist"
	"github.com/Blockstream/cln-lsps/service"
	"github.com/Blockstream/cln-lsps/utils"
)

// clientCallTimeout bounds outbound LSPS calls issued on behalf of the
// admin API. Unresponsive peers must not pin HTTP handlers.
const clientCallTimeout = 30 * time.Second

type HttpService struct {
	svc *service.Service
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type nodeInfoResponse struct {
	Pubkey  string        `json:"pubkey"`
	Options lsps1.Options `json:"options"`
	Website string        `json:"website,omitempty"`
}

func NewHttpService(svc *service.Service) *HttpService {
	return &HttpService{svc: svc}
}

func (httpSvc *HttpService) RegisterRoutes(e *echo.Echo) {
	e.Use(middleware.Recover())

	e.GET("/api/info", httpSvc.infoHandler)
	e.GET("/api/orders", httpSvc.listOrdersHandler)
	e.GET("/api/orders/:orderId", httpSvc.getOrderHandler)

	// Client-side probes: talk LSPS to a remote provider, addressed as
	// pubkey@host:port.
	e.GET("/api/client/protocols", httpSvc.clientProtocolsHandler)
	e.GET("/api/client/info", httpSvc.clientInfoHandler)
	e.POST("/api/client/orders", httpSvc.clientCreateOrderHandler)
}

func (httpSvc *HttpService) infoHandler(c echo.Context) error {
	cfg := httpSvc.svc.GetConfig()
	return c.JSON(http.StatusOK, nodeInfoResponse{
		Pubkey:  httpSvc.svc.GetLNClient().GetPubkey(),
		Options: cfg.Lsps1Options(),
		Website: cfg.Lsps1Website,
	})
}

func (httpSvc *HttpService) listOrdersHandler(c echo.Context) error {
	views, err := httpSvc.svc.GetStore().ListOrders(c.QueryParam("client"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	orders := make([]*lsps1.CreateOrderResponse, 0, len(views))
	for _, view := range views {
		orders = append(orders, lsps1.OrderResponse(view))
	}
	return c.JSON(http.StatusOK, orders)
}

func (httpSvc *HttpService) getOrderHandler(c echo.Context) error {
	view, err := httpSvc.svc.GetStore().GetOrder(c.Param("orderId"))
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Message: "Order not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, lsps1.OrderResponse(view))
}

// connectLSP parses an LSP URI and ensures a peer connection before any
// LSPS message is sent. Returns the peer pubkey to address messages to.
func (httpSvc *HttpService) connectLSP(ctx context.Context, uri string) (string, error) {
	pubkey, hostPort, err := utils.ParseLSPURI(uri)
	if err != nil {
		return "", err
	}
	host, port, err := utils.ParseHostPort(hostPort)
	if err != nil {
		return "", err
	}
	if err := httpSvc.svc.GetLNClient().ConnectPeer(ctx, &lnclient.ConnectPeerRequest{
		Pubkey:  pubkey,
		Address: host,
		Port:    port,
	}); err != nil {
		return "", err
	}
	return pubkey, nil
}

func (httpSvc *HttpService) clientProtocolsHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), clientCallTimeout)
	defer cancel()

	pubkey, err := httpSvc.connectLSP(ctx, c.QueryParam("lsp"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	protocols, err := httpSvc.svc.Lsps0Client().ListProtocols(ctx, pubkey)
	if err != nil {
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, protocols)
}

func (httpSvc *HttpService) clientInfoHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), clientCallTimeout)
	defer cancel()

	pubkey, err := httpSvc.connectLSP(ctx, c.QueryParam("lsp"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	info, err := httpSvc.svc.Lsps1Client().GetInfo(ctx, pubkey)
	if err != nil {
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, info)
}

type clientOrderRequest struct {
	Lsp   string                   `json:"lsp"`
	Order lsps1.CreateOrderRequest `json:"order"`
}

func (httpSvc *HttpService) clientCreateOrderHandler(c echo.Context) error {
	var req clientOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), clientCallTimeout)
	defer cancel()

	pubkey, err := httpSvc.connectLSP(ctx, req.Lsp)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	order, err := httpSvc.svc.Lsps1Client().CreateOrder(ctx, pubkey, &req.Order)
	if err != nil {
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, order)
}
