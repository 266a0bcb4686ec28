package task

// Task types handled by the worker process. The sweep tasks carry no payload;
// each run scans the tables it owns.
const (
	TypeCheckDeadlines     = "timeline:check_deadlines"
	TypeExpireOffers       = "offer:expire"
	TypeProcessPayments    = "payment:process_pending"
	TypeProcessWithdrawals = "withdrawal:process_pending"
)
