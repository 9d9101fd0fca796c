package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sirpyerre/duochat/internal/api/middleware"
	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

// LiveAttacher upgrades a request to a live connection bound to userID.
type LiveAttacher interface {
	Serve(w http.ResponseWriter, r *http.Request, userID int64) error
}

type LiveHandler struct {
	verifier       ports.SessionVerifier
	live           LiveAttacher
	allowAnonymous bool
	log            zerolog.Logger
}

// NewLiveHandler builds the live endpoint. With allowAnonymous set, a
// request carrying only ?userId= is accepted without a session token.
func NewLiveHandler(verifier ports.SessionVerifier, live LiveAttacher, allowAnonymous bool, log zerolog.Logger) *LiveHandler {
	return &LiveHandler{verifier: verifier, live: live, allowAnonymous: allowAnonymous, log: log}
}

// Connect handles GET /socket.
//
// @Summary      Open a live connection
// @Description  Upgrades to a WebSocket. The server pushes {"event":"getOnlineUsers","data":[ids]} on every presence change and {"event":"newMessage","data":message} for messages addressed to the caller.
// @Tags         live
// @Param        userId  query  int     false  "User id; must match the token when one is given"
// @Param        token   query  string  false  "Session token, for clients that cannot set headers"
// @Success      101
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /socket [get]
func (h *LiveHandler) Connect(c echo.Context) error {
	var requested int64
	if raw := c.QueryParam("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return domain.ValidationError("userId must be a positive integer")
		}
		requested = id
	}

	token := middleware.TokenFromRequest(c.Request())
	if token == "" {
		token = c.QueryParam("token")
	}

	var userID int64
	switch {
	case token != "":
		id, err := h.verifier.Verify(c.Request().Context(), token)
		if err != nil {
			return err
		}
		if requested != 0 && requested != id.ID {
			return domain.ErrForbidden
		}
		userID = id.ID
	case h.allowAnonymous && requested != 0:
		userID = requested
	default:
		return domain.ErrUnauthorized
	}

	if err := h.live.Serve(c.Response(), c.Request(), userID); err != nil {
		if c.Response().Committed {
			// The upgrader has already answered the handshake.
			h.log.Debug().Err(err).Int64("user_id", userID).Msg("live upgrade failed")
			return nil
		}
		return err
	}
	return nil
}
