package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fructosahel/backend/internal/currency"

	"github.com/gin-gonic/gin"
)

type CurrencyHandler struct {
	defaultLocale string
}

func NewCurrencyHandler(defaultLocale string) *CurrencyHandler {
	return &CurrencyHandler{defaultLocale: defaultLocale}
}

// Convert answers GET /currency/convert?amount=&from=&to=[&locale=].
func (h *CurrencyHandler) Convert(c *gin.Context) {
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_amount", "amount must be a number", nil)
		return
	}
	from := strings.ToUpper(c.Query("from"))
	to := strings.ToUpper(c.DefaultQuery("to", currency.Base))

	converted, err := currency.Convert(amount, from, to)
	if err != nil {
		handleCurrencyError(c, err)
		return
	}
	rate, _ := currency.Rate(from, to)
	formatted, _ := currency.Format(converted, to, c.DefaultQuery("locale", h.defaultLocale))

	c.JSON(http.StatusOK, gin.H{
		"amount":    amount,
		"from":      from,
		"to":        to,
		"rate":      rate,
		"result":    converted,
		"formatted": formatted,
	})
}

func handleCurrencyError(c *gin.Context, err error) {
	if errors.Is(err, currency.ErrUnsupportedCurrency) {
		respondError(c, http.StatusBadRequest, "unsupported_currency", err.Error(), currency.Supported())
		return
	}
	respondError(c, http.StatusInternalServerError, "internal_error", "Failed to convert amount", nil)
}
