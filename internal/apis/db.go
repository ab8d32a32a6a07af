package apis

import (
	"net/http"

	"github.com/jackc/pgtype"
	"github.com/mugiliam/hatchdbpool/internal/db"
	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/mugiliam/hatchdbpool/internal/httpx"
	"github.com/mugiliam/hatchdbpool/pkg/api"
	"github.com/rs/zerolog/log"
)

func getDbPing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lease := db.LeaseFromContext(ctx)
	conn, err := db.Conn(ctx)
	if err != nil {
		ToHttpxError(err).SendCtx(ctx, w)
		return
	}

	var name pgtype.Text
	if err := conn.QueryRowContext(ctx, lease.Pool().PingQuery()).Scan(&name); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("db ping query failed")
		ToHttpxError(dberror.ErrDatabase.Err(err)).SendCtx(ctx, w)
		return
	}
	rsp := &api.GetDbPingRsp{
		LeaseId: lease.Id().String(),
	}
	if name.Status == pgtype.Present {
		rsp.Database = name.String
	}
	httpx.SendJsonRsp(ctx, w, http.StatusOK, rsp)
}

func getDbStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lease := db.LeaseFromContext(ctx)
	if lease == nil {
		ToHttpxError(dberror.ErrNoConnection).SendCtx(ctx, w)
		return
	}
	st := lease.Pool().Stats()
	httpx.SendJsonRsp(ctx, w, http.StatusOK, &api.GetDbStatsRsp{
		Requests:    st.Requests,
		Returns:     st.Returns,
		Failures:    st.Failures,
		Outstanding: st.Outstanding(),
		InUse:       st.InUse,
		MaxOpen:     st.MaxOpen,
	})
}
