package api

import (
	"net/http"

	"raffle-service/internal/models"
	"raffle-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listRaffles(c *gin.Context) {
	raffles, err := h.raffles.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffles": raffles})
}

func (h *Handler) createRaffle(c *gin.Context) {
	var req service.CreateRaffleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	raffle, err := h.raffles.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, raffle)
}

func (h *Handler) getRaffle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	raffle, err := h.raffles.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}

func (h *Handler) updateRaffle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var upd models.RaffleUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}

	raffle, err := h.raffles.Update(c.Request.Context(), id, upd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, raffle)
}

func (h *Handler) deleteRaffle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.raffles.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) occupiedTickets(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	occupied, err := h.tickets.OccupiedTickets(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"raffle_id": id,
		"tickets":   occupied,
		"count":     len(occupied),
	})
}

func (h *Handler) availableTickets(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	available, err := h.tickets.AvailableTickets(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"raffle_id": id,
		"tickets":   available,
		"count":     len(available),
	})
}

func (h *Handler) listWinners(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	winners, err := h.draws.ListWinners(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"winners": winners})
}

type drawRequest struct {
	RaffleID int64 `json:"raffle_id" binding:"required"`
}

func (h *Handler) drawWinner(c *gin.Context) {
	var req drawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	winner, err := h.draws.DrawWinner(ctx, req.RaffleID)
	if err != nil {
		respondError(c, err)
		return
	}
	order, err := h.orders.Get(ctx, winner.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ticket": winner.Ticket,
		"order":  order,
		"winner": winner,
	})
}
