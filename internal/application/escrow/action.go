package escrow

// Action is one inbound negotiation step. The set of implementations is
// closed; Handle switches over every one of them.
type Action interface {
	Type() string
	sealed()
}

type ChatMessage struct {
	Text string
}

type ProposeDescription struct {
	Description string
}

type EditDescription struct {
	Description string
}

type ApproveDescription struct{}

type ConfirmSellerReady struct{}

type LockFunds struct{}

// ProductDelivered carries the seller's hex signature over RELEASE_TO_SELLER.
type ProductDelivered struct {
	Signature string
}

// TransactionSuccessful carries the buyer's hex signature over RELEASE_TO_SELLER.
type TransactionSuccessful struct {
	Signature string
}

// InitDispute carries the buyer's hex signature over REFUND_TO_BUYER.
type InitDispute struct {
	Signature string
}

type FinalizeSubmission struct{}

func (ChatMessage) Type() string           { return "chat_message" }
func (ProposeDescription) Type() string    { return "propose_description" }
func (EditDescription) Type() string       { return "edit_description" }
func (ApproveDescription) Type() string    { return "approve_description" }
func (ConfirmSellerReady) Type() string    { return "confirm_seller_ready" }
func (LockFunds) Type() string             { return "buyer_lock_funds" }
func (ProductDelivered) Type() string      { return "product_delivered" }
func (TransactionSuccessful) Type() string { return "transaction_successfull" }
func (InitDispute) Type() string           { return "init_dispute" }
func (FinalizeSubmission) Type() string    { return "finalize_submission" }

func (ChatMessage) sealed()           {}
func (ProposeDescription) sealed()    {}
func (EditDescription) sealed()       {}
func (ApproveDescription) sealed()    {}
func (ConfirmSellerReady) sealed()    {}
func (LockFunds) sealed()             {}
func (ProductDelivered) sealed()      {}
func (TransactionSuccessful) sealed() {}
func (InitDispute) sealed()           {}
func (FinalizeSubmission) sealed()    {}
