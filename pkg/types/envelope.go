package types

import "time"

type ResultEnvelope struct {
	AgentID  string            `json:"agent_id" yaml:"agent_id"`
	BatchID  string            `json:"batch_id" yaml:"batch_id"`
	SentAt   time.Time         `json:"sent_at" yaml:"sent_at"`
	BatchSeq uint64            `json:"batch_seq" yaml:"batch_seq"`
	Labels   map[string]string `json:"labels" yaml:"labels"`
	Results  []ProbeResult     `json:"results" yaml:"results"`
}

// ProbeResult is one PPTP credential probe as reported downstream. AvgTime
// and PacketLoss keep the ping-style shape consumers already understand.
type ProbeResult struct {
	TargetID    string    `json:"target_id" yaml:"target_id"`
	Timestamp   time.Time `json:"ts" yaml:"ts"`
	Host        string    `json:"host" yaml:"host"`
	Port        int       `json:"port" yaml:"port"`
	Login       string    `json:"login" yaml:"login"`
	Success     bool      `json:"success" yaml:"success"`
	AvgTime     float64   `json:"avg_time" yaml:"avg_time"`
	ElapsedMs   float64   `json:"elapsed_ms" yaml:"elapsed_ms"`
	PacketLoss  float64   `json:"packet_loss" yaml:"packet_loss"`
	Message     string    `json:"message" yaml:"message"`
	AuthTested  bool      `json:"auth_tested" yaml:"auth_tested"`
	Outcome     string    `json:"outcome" yaml:"outcome"`
	StartResult int       `json:"start_result" yaml:"start_result"`
	CallResult  int       `json:"call_result" yaml:"call_result"`
}
