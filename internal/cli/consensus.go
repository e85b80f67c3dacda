package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// ConsensusStateProvider is satisfied by a running *rcl.Engine. runStart
// (start.go) calls SetConsensusStateProvider once the engine is constructed so this
// command can report live round state without the CLI importing rcl (and
// therefore without depending on the engine's storage/transport wiring).
type ConsensusStateProvider interface {
	State() *consensus.RoundState
	Mode() consensus.Mode
	Phase() consensus.Phase
}

var consensusState ConsensusStateProvider

// SetConsensusStateProvider registers the node's consensus engine so the
// consensus command can report its state. Called once from runStart in
// start.go, after the engine is constructed and before it is started.
func SetConsensusStateProvider(p ConsensusStateProvider) {
	consensusState = p
}

// consensusCmd surfaces the running consensus engine's round state for
// operators. It reads consensusState directly rather than going through an
// RPC round-trip, since this process and the engine share an address space.
var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Show current consensus round state",
	Long: `Show the consensus engine's current operating mode, phase, proposer
count, and convergence state. Requires a running node in this process; if no
engine has been registered, reports that consensus is not active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if consensusState == nil {
			fmt.Println("consensus: no engine registered in this process")
			return nil
		}

		state := consensusState.State()
		fmt.Printf("mode:             %s\n", consensusState.Mode())
		fmt.Printf("phase:            %s\n", consensusState.Phase())
		fmt.Printf("proposers:        %d\n", len(state.Proposals))
		fmt.Printf("disputed txs:     %d\n", len(state.Disputed))
		fmt.Printf("have correct lcl: %t\n", state.HaveCorrectLCL)
		fmt.Printf("phase start:      %s\n", state.PhaseStart)
		if state.StuckSince != nil {
			fmt.Printf("stuck since:      %s\n", *state.StuckSince)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consensusCmd)
}
