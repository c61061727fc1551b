package config

// BillingConfig configures the billing-processor integration.
type BillingConfig struct {
	WebhookSecret string
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret: getEnv("BILLING_WEBHOOK_SECRET", ""),
	}
}
