package apiv1

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/usecase"
)

type paymentPageData struct {
	KeyID          string
	OrderID        string
	GatewayOrderID string
	PlanName       string
	AmountMinor    int64
	Display        string
	Currency       string
	Name           string
	Email          string
	Phone          string
	VerifyURL      string
	Msg            string
	OK             bool
}

var page = template.Must(template.New("checkout").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{if .OK}}Complete your purchase{{else}}Payment{{end}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;background:#fff;cursor:pointer}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
{{if .OK}}
  <h2>{{.PlanName}}</h2>
  <p>Amount due: <strong>{{.Display}}</strong></p>
  <button class="btn" id="pay">Pay now</button>
  <p id="status" class="small"></p>
  <div class="small">Order {{.OrderID}}</div>
  <script src="https://checkout.razorpay.com/v1/checkout.js"></script>
  <script>
  (function(){
    var status = document.getElementById("status");
    var rzp = new Razorpay({
      key: {{.KeyID}},
      amount: {{.AmountMinor}},
      currency: {{.Currency}},
      order_id: {{.GatewayOrderID}},
      name: "Korean Tutor",
      description: {{.PlanName}},
      prefill: {name: {{.Name}}, email: {{.Email}}, contact: {{.Phone}}},
      handler: function (resp) {
        status.textContent = "Confirming payment...";
        fetch({{.VerifyURL}}, {
          method: "POST",
          headers: {"Content-Type": "application/json"},
          body: JSON.stringify({
            gatewayOrderId: resp.razorpay_order_id,
            gatewayPaymentId: resp.razorpay_payment_id,
            signature: resp.razorpay_signature
          })
        }).then(function (r) {
          status.className = r.ok ? "ok" : "fail";
          status.textContent = r.ok ? "Payment confirmed. You can return to the app." :
            "We could not confirm the payment yet. It will be applied automatically once it clears.";
        });
      }
    });
    document.getElementById("pay").onclick = function (e) { rzp.open(); e.preventDefault(); };
  })();
  </script>
{{else}}
  <h2 class="fail">Payment unavailable</h2>
  <p>{{.Msg}}</p>
{{end}}
</div>
</body>
</html>`))

func renderPage(w http.ResponseWriter, code int, data paymentPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = page.Execute(w, data)
}

// paymentPage serves the checkout for a token-authenticated order link.
// Clients that ask for JSON get the order data instead of HTML.
func (s *Server) paymentPage(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	token := r.URL.Query().Get("token")
	wantsJSON := strings.Contains(r.Header.Get("Accept"), "application/json")

	p, err := s.orders.PaymentPage(r.Context(), orderID, token)
	if err != nil {
		if wantsJSON {
			writeError(w, r, s.log, err)
			return
		}
		status, _, msg := classify(err)
		if status >= http.StatusInternalServerError {
			writeError(w, r, s.log, err)
			return
		}
		renderPage(w, status, paymentPageData{Msg: msg})
		return
	}

	if wantsJSON {
		writeJSON(w, http.StatusOK, struct {
			Order        Order   `json:"order"`
			GatewayKeyID string  `json:"gatewayKeyId"`
			Contact      Contact `json:"prefill"`
		}{orderView(p.Order), p.GatewayKeyID, Contact(p.Order.Contact)})
		return
	}
	verifyURL := "/api/v1/subscriptions/payment-page/" + url.PathEscape(orderID) + "/verify?token=" + url.QueryEscape(token)
	renderPage(w, http.StatusOK, pageData(p, verifyURL))
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func pageData(p *usecase.PaymentPage, verifyURL string) paymentPageData {
	o := p.Order
	m := money(o.Amount, o.Currency)
	return paymentPageData{
		KeyID:          p.GatewayKeyID,
		OrderID:        o.ID,
		GatewayOrderID: o.GatewayOrderID,
		PlanName:       o.Plan.Name,
		AmountMinor:    o.Amount,
		Display:        m.Display,
		Currency:       o.Currency,
		Name:           o.Contact.Name,
		Email:          o.Contact.Email,
		Phone:          o.Contact.Phone,
		VerifyURL:      verifyURL,
		OK:             true,
	}
}

// paymentPageVerify accepts the checkout callback from the payment page. The
// page token stands in for the session.
func (s *Server) paymentPageVerify(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	claims, err := s.pageTokens.Verify(r.URL.Query().Get("token"))
	if err != nil || (claims.OrderID != "" && claims.OrderID != orderID) {
		writeError(w, r, s.log, domain.ErrInvalidToken)
		return
	}
	var req verifyPaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	s.verify(w, r, claims.UserID, req)
}
