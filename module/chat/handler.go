package chat

import (
	"net/http"
	"strconv"

	"PChatGate/logger"
	"PChatGate/middleware"
	midsec "PChatGate/middleware/security"
	"PChatGate/module/chat/service"
	"PChatGate/service/eventbus"
	"PChatGate/tools/decode"
	"PChatGate/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	APIPrefix   = "/api/chat"
	ServiceName = "chat"
)

// BusState reports the subscriber state for /health.
type BusState interface {
	State() eventbus.State
	Gaps() int64
}

type sendRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Content     string `json:"content" validate:"required"`
}

type statusRequest struct {
	UserIDs []string `json:"userIds" validate:"required"`
}

// Handler is the request/response surface over the same ChatService the gateway uses.
type Handler struct {
	svc  *service.ChatService
	auth gin.HandlerFunc
	bus  BusState
}

func NewHandler(svc *service.ChatService, auth gin.HandlerFunc, bus BusState) *Handler {
	return &Handler{svc: svc, auth: auth, bus: bus}
}

func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/health", h.Health)

	g := r.Group(APIPrefix)
	opt := middleware.RouteOpt{IsAuth: true, Auth: h.auth}
	middleware.GET(g, "/conversations", wrap(h.Conversations), opt)
	middleware.GET(g, "/conversations/:id/messages", wrap(h.Messages), opt)
	middleware.PATCH(g, "/conversations/:id/read", wrap(h.MarkRead), opt)
	middleware.POST(g, "/messages", wrap(h.Send), opt)
	middleware.GET(g, "/users/search", wrap(h.SearchUsers), opt)
	middleware.POST(g, "/users/status", wrap(h.UsersStatus), opt)
	middleware.GET(g, "/unread", wrap(h.Unread), opt)
	middleware.GET(g, "/me", wrap(h.Me), opt)
}

// wrap renders a returned error as {code, msg, detail} with the matching status.
func wrap(f func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := f(c)
		if err == nil {
			return
		}
		ce := errs.From(err)
		if ce.Code >= http.StatusInternalServerError {
			logger.Warn("chat api failed", zap.String("path", c.FullPath()), zap.Error(err))
			if ce.Code == http.StatusInternalServerError {
				ce = errs.NewCodeError(ce.Code, ce.Msg)
			}
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(ce.Code, ce)
	}
}

func (h *Handler) Conversations(c *gin.Context) error {
	list, err := h.svc.Conversations(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, list)
	return nil
}

func (h *Handler) Messages(c *gin.Context) error {
	page, err := queryInt(c, "page")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	res, err := h.svc.History(c.Request.Context(), midsec.UserID(c), c.Param("id"), page, limit)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, res)
	return nil
}

func (h *Handler) MarkRead(c *gin.Context) error {
	res, err := h.svc.MarkRead(c.Request.Context(), midsec.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, res)
	return nil
}

func (h *Handler) Send(c *gin.Context) error {
	req, err := bindJSON[sendRequest](c)
	if err != nil {
		return err
	}
	res, err := h.svc.SendMessage(c.Request.Context(), midsec.UserID(c), req.RecipientID, req.Content)
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, res)
	return nil
}

func (h *Handler) SearchUsers(c *gin.Context) error {
	users, err := h.svc.SearchUsers(c.Request.Context(), midsec.UserID(c), c.Query("query"))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, users)
	return nil
}

func (h *Handler) UsersStatus(c *gin.Context) error {
	req, err := bindJSON[statusRequest](c)
	if err != nil {
		return err
	}
	online, err := h.svc.OnlineStatus(c.Request.Context(), req.UserIDs)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"onlineUsers": online})
	return nil
}

func (h *Handler) Unread(c *gin.Context) error {
	n, err := h.svc.UnreadTotal(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"unreadTotal": n})
	return nil
}

func (h *Handler) Me(c *gin.Context) error {
	c.JSON(http.StatusOK, gin.H{"userId": midsec.UserID(c)})
	return nil
}

// Health 总是 200；订阅断开时 status=degraded，gaps 是累计的订阅中断次数
func (h *Handler) Health(c *gin.Context) {
	status, bus, gaps := "ok", eventbus.StateIdle.String(), int64(0)
	if h.bus != nil {
		st := h.bus.State()
		bus = st.String()
		gaps = h.bus.Gaps()
		if st != eventbus.StateSubscribed {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "service": ServiceName, "bus": bus, "gaps": gaps})
}

func bindJSON[T any](c *gin.Context) (*T, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, errs.ErrInvalidInput.WrapMsg("read body failed")
	}
	return decode.Raw[T](raw)
}

// 缺省返回 0，交给 NormalizePage 取默认值
func queryInt(c *gin.Context, key string) (int, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errs.ErrInvalidInput.WrapMsg("must be a positive integer", "field", key, "value", s)
	}
	return n, nil
}
